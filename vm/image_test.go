package tvm

// buildImage assembles an image file from its parts. Segment payloads are
// concatenated in the fixed order the format prescribes (globals ||
// literals || class headers || functions || entry);
// stack has no on-disk payload, only a declared length.
func buildImage(width int, stackLen, globalLen, literalLen, classHeaderLen int, globals, literals, classHeaders, functions, entry []byte) []byte {
	bitWidth := byte(32)
	if width == 8 {
		bitWidth = 64
	}

	header := make([]byte, 16)
	copy(header, signatureValue)
	header[4] = bitWidth

	lens := newAsm(width)
	lens.imm(int64(stackLen)).imm(int64(globalLen)).imm(int64(literalLen)).imm(int64(classHeaderLen))

	payload := make([]byte, 0, len(globals)+len(literals)+len(classHeaders)+len(functions)+len(entry))
	payload = append(payload, globals...)
	payload = append(payload, literals...)
	payload = append(payload, classHeaders...)
	payload = append(payload, functions...)
	payload = append(payload, entry...)

	trailer := newAsm(width)
	trailer.imm(int64(len(entry)))

	img := make([]byte, 0, len(header)+len(lens.bytes())+len(payload)+len(trailer.bytes()))
	img = append(img, header...)
	img = append(img, lens.bytes()...)
	img = append(img, payload...)
	img = append(img, trailer.bytes()...)
	return img
}

// segmentAddrs mirrors Machine.Load's own prefix-sum so tests can compute
// the absolute address a payload segment will land at without duplicating
// loader internals beyond simple arithmetic.
type segmentAddrs struct {
	stackEnd, globalEnd, literalEnd, classHeaderEnd, functionsEnd, entryEnd, heapStart int
}

func computeSegments(width, stackLen, globalLen, literalLen, classHeaderLen, functionsLen, entryLen int) segmentAddrs {
	var s segmentAddrs
	s.stackEnd = stackLen
	s.globalEnd = s.stackEnd + globalLen
	s.literalEnd = s.globalEnd + literalLen
	s.classHeaderEnd = s.literalEnd + classHeaderLen
	s.functionsEnd = s.classHeaderEnd + functionsLen
	s.entryEnd = s.functionsEnd + entryLen
	s.heapStart = alignUp(s.entryEnd, width)
	return s
}

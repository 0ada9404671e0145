package sign

import (
	"fmt"
	"strings"
)

// updateByteRange computes the byte ranges around /Contents and patches
// the ByteRange placeholder in place.
func (context *SignContext) updateByteRange() error {
	output_file_size := int64(context.OutputBuffer.Buff.Len())

	// Calculate ByteRange values to replace them.
	context.ByteRangeValues = make([]int64, 4)

	// Signature ByteRange part 1 start byte is always byte 0.
	context.ByteRangeValues[0] = int64(0)

	// Signature ByteRange part 1 length always stops at the actual signature start byte.
	context.ByteRangeValues[1] = context.contentsStart

	// Signature ByteRange part 2 start byte directly starts after the actual signature.
	context.ByteRangeValues[2] = context.ByteRangeValues[1] + int64(context.SignatureMaxLength) + 2

	// Signature ByteRange part 2 length is everything else of the file.
	context.ByteRangeValues[3] = output_file_size - context.ByteRangeValues[2]

	new_byte_range, err := formatByteRange(context.ByteRangeValues)
	if err != nil {
		return err
	}

	return patchBytes(context.OutputBuffer.Buff.Bytes(), context.byteRangeStart, new_byte_range)
}

// formatByteRange returns the ByteRange array padded to the width of the
// placeholder.
func formatByteRange(values []int64) ([]byte, error) {
	new_byte_range := fmt.Sprintf("[%d %d %d %d]", values[0], values[1], values[2], values[3])
	if len(new_byte_range) > len(signatureByteRangePlaceholder) {
		return nil, fmt.Errorf("byte range %s does not fit the placeholder", new_byte_range)
	}

	// Make sure our ByteRange string didn't shrink in length.
	new_byte_range += strings.Repeat(" ", len(signatureByteRangePlaceholder)-len(new_byte_range))
	return []byte(new_byte_range), nil
}

// patchBytes overwrites data at offset without changing its length.
func patchBytes(data []byte, offset int64, patch []byte) error {
	if offset < 0 || offset+int64(len(patch)) > int64(len(data)) {
		return fmt.Errorf("patch of %d bytes at %d is out of range", len(patch), offset)
	}
	copy(data[offset:], patch)
	return nil
}

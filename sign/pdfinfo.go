package sign

import (
	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// createInfo returns the document information dictionary with ModDate
// set to the signing time, or nil when the document has none.
func (context *SignContext) createInfo() *pdfobj.Dict {
	if context.infoRef.Num == 0 {
		return nil
	}
	original, ok := context.Source.Resolve(context.infoRef).(*pdfobj.Dict)
	if !ok {
		return nil
	}

	info := cloneDict(original)
	info.Set("ModDate", textString(pdfDate(context.SignData.Signature.Date)))
	return info
}

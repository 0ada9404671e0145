package sign

import (
	"fmt"
	"strconv"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

const (
	// annotFlagPrint and annotFlagLocked, see Table 167.
	annotFlagPrint  = 4
	annotFlagLocked = 128

	defaultFieldName = "Signature"
)

// createVisualSignature returns the widget annotation of the signature
// field. appearance is the object number of the normal appearance
// XObject, zero for an invisible signature.
func (context *SignContext) createVisualSignature(rect [4]float64, appearance uint32) *pdfobj.Dict {
	widget := pdfobj.NewDict()
	widget.Set("Type", pdfobj.Name("Annot"))
	widget.Set("Subtype", pdfobj.Name("Widget"))
	widget.Set("FT", pdfobj.Name("Sig"))
	widget.Set("T", textString(context.SignData.FieldName))
	widget.Set("V", pdfobj.Ref{Num: int(context.signatureObjectID)})
	widget.Set("P", context.pageRef)
	widget.Set("Rect", pdfobj.Array{
		pdfobj.Real(rect[0]), pdfobj.Real(rect[1]),
		pdfobj.Real(rect[2]), pdfobj.Real(rect[3]),
	})
	widget.Set("F", pdfobj.Integer(annotFlagPrint|annotFlagLocked))

	if appearance != 0 {
		ap := pdfobj.NewDict()
		ap.Set("N", pdfobj.Ref{Num: int(appearance)})
		widget.Set("AP", ap)
	}
	return widget
}

// createIncPageUpdate returns the target page with the widget appended
// to its annotations.
func (context *SignContext) createIncPageUpdate() (*pdfobj.Dict, error) {
	original, ok := context.Source.Resolve(context.pageRef).(*pdfobj.Dict)
	if !ok {
		return nil, fmt.Errorf("page object %d is not a dictionary", context.pageRef.Num)
	}

	page := cloneDict(original)

	var annots pdfobj.Array
	if existing, ok := context.Source.Resolve(original.Get("Annots")).(pdfobj.Array); ok {
		annots = append(annots, existing...)
	}
	annots = append(annots, pdfobj.Ref{Num: int(context.widgetObjectID)})
	page.Set("Annots", annots)

	return page, nil
}

// existingFieldNames returns the partial names of all form fields and
// widgets of the source document.
func existingFieldNames(source *pdfobj.File) map[string]bool {
	names := make(map[string]bool)
	for _, ind := range source.Objects {
		d, ok := ind.Value.(*pdfobj.Dict)
		if !ok {
			continue
		}
		_, isField := d.Name("FT")
		subtype, _ := d.Name("Subtype")
		if !isField && subtype != "Widget" {
			continue
		}
		if t, ok := d.Get("T").(pdfobj.String); ok {
			names[string(t.Value)] = true
		}
	}
	return names
}

// uniqueFieldName returns name, or name with the lowest numeric suffix
// that is not taken.
func uniqueFieldName(name string, taken map[string]bool) string {
	if name == "" {
		name = defaultFieldName
	}
	if !taken[name] && !taken[string(utf16Text(name))] {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + " " + strconv.Itoa(i)
		if !taken[candidate] && !taken[string(utf16Text(candidate))] {
			return candidate
		}
	}
}

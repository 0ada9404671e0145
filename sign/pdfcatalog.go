package sign

import (
	"fmt"

	"github.com/digitorus/pdfbatchsign/internal/pdfobj"
)

// createCatalog returns a copy of the document catalog whose AcroForm
// lists the new signature field next to the existing fields.
func (context *SignContext) createCatalog() (*pdfobj.Dict, error) {
	root, ok := context.Source.Resolve(context.rootRef).(*pdfobj.Dict)
	if !ok {
		return nil, fmt.Errorf("document catalog %d is not a dictionary", context.rootRef.Num)
	}
	if root.Get("Pages") == nil {
		return nil, fmt.Errorf("didn't find pages in document catalog")
	}

	catalog := cloneDict(root)
	catalog.Set("Type", pdfobj.Name("Catalog"))

	acroForm := pdfobj.NewDict()
	if existing, ok := context.Source.Resolve(root.Get("AcroForm")).(*pdfobj.Dict); ok {
		acroForm = cloneDict(existing)
	}

	// Add existing fields, then the new signature field.
	var fields pdfobj.Array
	if existing, ok := context.Source.Resolve(acroForm.Get("Fields")).(pdfobj.Array); ok {
		fields = append(fields, existing...)
	}
	fields = append(fields, pdfobj.Ref{Num: int(context.widgetObjectID)})
	acroForm.Set("Fields", fields)

	// Signature flags (Table 225)
	//
	// Bit position 1: SignaturesExist
	// Bit position 2: AppendOnly, the document has to be saved with an
	// incremental update to keep the signatures valid.
	acroForm.Set("SigFlags", pdfobj.Integer(3))
	acroForm.Delete("NeedAppearances")

	catalog.Set("AcroForm", acroForm)
	return catalog, nil
}

// cloneDict returns a shallow copy of d.
func cloneDict(d *pdfobj.Dict) *pdfobj.Dict {
	out := pdfobj.NewDict()
	for _, key := range d.Keys() {
		out.Set(key, d.Get(key))
	}
	return out
}

package sign

import (
	"fmt"
	"math"

	"github.com/digitorus/pdfbatchsign/fonts"
	"github.com/digitorus/pdfbatchsign/internal/render"
)

// Render adds a visible appearance to the signature field. It can be
// called once, before Sign.
func (d *ReservedDocument) Render(spec AppearanceSpec) error {
	if d.consumed {
		return ErrDocumentConsumed
	}
	if d.rendered {
		return ErrAppearanceAlreadyRendered
	}

	context := d.context
	if err := validateRect(spec.Rect); err != nil {
		return err
	}

	page := spec.Page
	if page == 0 {
		page = 1
	}
	if page < 1 || page > context.pageCount {
		return fmt.Errorf("%w: page %d outside 1..%d", ErrInvalidAppearanceTarget, page, context.pageCount)
	}
	pageRef, err := context.findPage(page)
	if err != nil {
		return err
	}

	if spec.Font == nil {
		spec.Font = fonts.Standard(fonts.HelveticaBold)
	}
	if spec.FontSize <= 0 {
		spec.FontSize = DefaultAppearanceFontSize
	}
	if spec.Color == nil {
		c := DefaultAppearanceColor
		spec.Color = &c
	}
	if spec.Lines == nil {
		spec.Lines = DefaultAppearanceLines
	}
	spec.Page = page

	previousPage := context.pageRef
	context.pageRef = pageRef
	context.SignData.Appearance = &spec

	if err := context.layout(); err != nil {
		// Restore the invisible field.
		context.pageRef = previousPage
		context.SignData.Appearance = nil
		if restoreErr := context.layout(); restoreErr != nil {
			return fmt.Errorf("%w (restore failed: %v)", err, restoreErr)
		}
		return err
	}

	d.rendered = true
	d.sync()
	return nil
}

func validateRect(rect [4]float64) error {
	for _, v := range rect {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: rectangle %v is not finite", ErrInvalidAppearanceTarget, rect)
		}
	}
	if !(rect[2] > rect[0] && rect[3] > rect[1]) {
		return fmt.Errorf("%w: rectangle %v is empty", ErrInvalidAppearanceTarget, rect)
	}
	return nil
}

// createAppearance writes the normal appearance XObject and its fonts
// and returns the object number of the XObject.
func (context *SignContext) createAppearance() (uint32, error) {
	spec := context.SignData.Appearance
	info := context.SignData.Signature

	lines := render.ExpandLines(spec.Lines, render.TemplateContext{
		Name:     info.Name,
		Date:     info.Date,
		Reason:   info.Reason,
		Contact:  info.ContactInfo,
		Location: info.Location,
	})

	appearance := &render.Appearance{
		Width:  spec.Rect[2] - spec.Rect[0],
		Height: spec.Rect[3] - spec.Rect[1],
		Blocks: []render.TextBlock{
			{
				Lines:   lines,
				Font:    spec.Font,
				Size:    spec.FontSize,
				MinSize: MinAppearanceFontSize,
				Color:   render.Color{R: spec.Color.R, G: spec.Color.G, B: spec.Color.B},
				Padding: 2,
			},
		},
	}

	renderer := render.NewRenderer(context)
	renderer.CompressLevel = context.CompressLevel

	xobject, err := renderer.Render(appearance)
	if err != nil {
		return 0, fmt.Errorf("failed to render appearance: %w", err)
	}
	return context.AddObject(xobject)
}

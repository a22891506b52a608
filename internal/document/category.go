package document

// Category classifies one layout detection.
type Category string

const (
	CategoryImage   Category = "image"
	CategoryFigure  Category = "figure"
	CategoryTable   Category = "table"
	CategoryTitle   Category = "title"
	CategoryFormula Category = "formula"
	CategoryText    Category = "text"
)

// CategoryFromID maps an engine category id to the internal enum.
// Unknown ids return false and the detection is dropped upstream.
func CategoryFromID(id int) (Category, bool) {
	switch id {
	case 0:
		return CategoryImage, true
	case 3:
		return CategoryFigure, true
	case 5:
		return CategoryTable, true
	case 7:
		return CategoryTitle, true
	case 13:
		return CategoryFormula, true
	case 14:
		return CategoryText, true
	}
	return "", false
}

// IsRegionSource reports whether detections of this category are cropped
// into image artifacts.
func (c Category) IsRegionSource() bool {
	return c == CategoryImage || c == CategoryFigure || c == CategoryTable
}

// BBox is a page-local bounding box, origin top-left.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Scaled returns the box with every coordinate multiplied by f.
func (b BBox) Scaled(f float64) BBox {
	return BBox{X0: b.X0 * f, Y0: b.Y0 * f, X1: b.X1 * f, Y1: b.Y1 * f}
}

// Valid reports whether the box has positive area.
func (b BBox) Valid() bool {
	return b.X1 > b.X0 && b.Y1 > b.Y0
}

// Detection is one layout region found by an engine.
type Detection struct {
	Category   Category `json:"category"`
	BBox       BBox     `json:"bbox"`
	Content    string   `json:"content,omitempty"`
	Confidence float64  `json:"confidence"`
}

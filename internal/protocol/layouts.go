package protocol

// LayoutType names a glasses display layout.
type LayoutType string

const (
	LayoutTextWall       LayoutType = "text_wall"
	LayoutDoubleTextWall LayoutType = "double_text_wall"
	LayoutReferenceCard  LayoutType = "reference_card"
	LayoutDashboardCard  LayoutType = "dashboard_card"
	LayoutBitmapView     LayoutType = "bitmap_view"
	LayoutClearView      LayoutType = "clear_view"
)

// Layout is the renderable content of a display request. Which fields
// are meaningful depends on LayoutType; unknown fields are ignored by
// devices.
type Layout struct {
	LayoutType LayoutType `json:"layoutType"`

	// text_wall, reference_card
	Text string `json:"text,omitempty"`
	// reference_card
	Title string `json:"title,omitempty"`
	// double_text_wall
	TopText    string `json:"topText,omitempty"`
	BottomText string `json:"bottomText,omitempty"`
	// dashboard_card
	LeftText  string `json:"leftText,omitempty"`
	RightText string `json:"rightText,omitempty"`
	// bitmap_view, base64 encoded
	Data string `json:"data,omitempty"`
}

// TextWall builds the simplest full-screen text layout.
func TextWall(text string) Layout {
	return Layout{LayoutType: LayoutTextWall, Text: text}
}

// ReferenceCard builds a titled card layout.
func ReferenceCard(title, text string) Layout {
	return Layout{LayoutType: LayoutReferenceCard, Title: title, Text: text}
}

// DoubleTextWall builds a split top/bottom text layout.
func DoubleTextWall(top, bottom string) Layout {
	return Layout{LayoutType: LayoutDoubleTextWall, TopText: top, BottomText: bottom}
}

// DashboardCard builds the two-column dashboard layout.
func DashboardCard(left, right string) Layout {
	return Layout{LayoutType: LayoutDashboardCard, LeftText: left, RightText: right}
}

// ClearView builds an empty layout that blanks the view.
func ClearView() Layout {
	return Layout{LayoutType: LayoutClearView}
}

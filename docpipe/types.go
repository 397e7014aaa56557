package docpipe

// Format identifies a document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
)

// Page is the extracted text of a single document page. Page numbers are
// 1-based; formats without a page concept produce a single page 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Table is a detected table. Header holds the column labels from the
// header/title row; Rows holds the data cells in document order.
type Table struct {
	Page   int        `json:"page"`
	Title  string     `json:"title,omitempty"`
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows"`
}

// Document is the result of extracting content from a file. Lines consumed
// by table detection are already removed from Pages and Text, so the same
// content never appears as both table and prose.
type Document struct {
	Path      string  `json:"path"`
	Format    Format  `json:"format"`
	Title     string  `json:"title"`
	Pages     []Page  `json:"pages"`
	Tables    []Table `json:"tables"`
	Text      string  `json:"text"`
	HasImages bool    `json:"has_images"`
}

// PageCount returns the number of pages, never less than 1 for a non-empty
// document.
func (d *Document) PageCount() int {
	if len(d.Pages) == 0 {
		return 1
	}
	return d.Pages[len(d.Pages)-1].Number
}

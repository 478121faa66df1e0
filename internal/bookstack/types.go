package bookstack

// Shelf is a BookStack bookshelf. Books is only populated by GetShelf.
type Shelf struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug,omitempty"`
	Books []Book `json:"books,omitempty"`
}

// Book is a BookStack book.
type Book struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Chapter is a BookStack chapter.
type Chapter struct {
	ID     int    `json:"id"`
	BookID int    `json:"book_id"`
	Name   string `json:"name"`
	Slug   string `json:"slug,omitempty"`
}

// Page is a BookStack page. Markdown is only populated by GetPage and by
// create/update responses.
type Page struct {
	ID        int    `json:"id"`
	BookID    int    `json:"book_id"`
	ChapterID int    `json:"chapter_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug,omitempty"`
	Draft     bool   `json:"draft,omitempty"`
	Markdown  string `json:"markdown,omitempty"`
}

// Attachment is a file attached to a page.
type Attachment struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Extension  string `json:"extension,omitempty"`
	UploadedTo int    `json:"uploaded_to"`
	External   bool   `json:"external,omitempty"`
}

// PageInput is the body of page create and update calls. Exactly one of
// BookID and ChapterID is set on create.
type PageInput struct {
	BookID    int    `json:"book_id,omitempty"`
	ChapterID int    `json:"chapter_id,omitempty"`
	Name      string `json:"name"`
	Markdown  string `json:"markdown"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

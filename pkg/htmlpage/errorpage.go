package htmlpage

import (
	"fmt"
	"html"
	"net/http"
)

// Page describes an HTML error page sent by the proxy itself, such as the
// 403 for a denied connection or the 429 for a refused one.
type Page struct {
	Status int
	Title  string
	Detail string
}

// HTML returns the rendered document.
func (p Page) HTML(product, version string) string {
	return fmt.Sprintf(
		"<html>\n"+
			"<head><title>%d %s</title></head>\n"+
			"<body>\n"+
			"<h1>%s</h1>\n"+
			"<p>%s</p>\n"+
			"<hr />\n"+
			"<p><em>Generated by %s version %s.</em></p>\n"+
			"</body>\n"+
			"</html>\n",
		p.Status, html.EscapeString(p.Title),
		html.EscapeString(p.Title),
		html.EscapeString(p.Detail),
		html.EscapeString(product), html.EscapeString(version),
	)
}

// Write sends the page on w with its status code.
func (p Page) Write(w http.ResponseWriter, product, version string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(p.Status)
	_, _ = fmt.Fprint(w, p.HTML(product, version))
}

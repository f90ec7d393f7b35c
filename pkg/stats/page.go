package stats

import "fmt"

// builtinPage synthesizes the minimal stats document used when no external
// template is configured or the configured one cannot be opened. The layout
// is fixed; only the counters and product identity vary.
func builtinPage(c Counters, product, version string) string {
	return fmt.Sprintf(
		"<?xml version=\"1.0\" encoding=\"UTF-8\" ?>\n"+
			"<!DOCTYPE html PUBLIC \"-//W3C//DTD XHTML 1.1//EN\" "+
			"\"http://www.w3.org/TR/xhtml11/DTD/xhtml11.dtd\">\n"+
			"<html>\n"+
			"<head><title>%s version %s run-time statistics</title></head>\n"+
			"<body>\n"+
			"<h1>%s version %s run-time statistics</h1>\n"+
			"<p>\n"+
			"Number of open connections: %d<br />\n"+
			"Number of requests: %d<br />\n"+
			"Number of bad connections: %d<br />\n"+
			"Number of denied connections: %d<br />\n"+
			"Number of refused connections due to high load: %d\n"+
			"</p>\n"+
			"<hr />\n"+
			"<p><em>Generated by %s version %s.</em></p>\n"+
			"</body>\n"+
			"</html>\n",
		product, version, product, version,
		c.OpenConnections,
		c.Requests,
		c.BadConnections,
		c.DeniedConnections,
		c.RefusedConnections,
		product, version,
	)
}

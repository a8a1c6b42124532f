package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const helpTemplate = `Perfetto Trace Processor RPC Server


This service can be used in two ways:

1. Open or reload https://ui.perfetto.dev/

It will automatically try to connect and use the server on localhost:%[1]d when
available. Click YES when prompted to use Trace Processor Native Acceleration
in the UI dialog.
See https://perfetto.dev/docs/visualization/large-traces for more.


2. Python API.

Example: perfetto.TraceProcessor(addr='localhost:%[1]d')
See https://perfetto.dev/docs/analysis/trace-processor#python-api for more.


For questions:
https://perfetto.dev/docs/contributing/getting-started#community
`

// HelpText renders the help page for the given listen port.
func HelpText(port int) string {
	return fmt.Sprintf(helpTemplate, port)
}

func (h *Handlers) help(c *gin.Context) {
	c.Data(http.StatusOK, ContentTypeText, h.helpPage)
}

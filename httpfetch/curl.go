package httpfetch

import (
	"fmt"
	"strings"
)

// curlContinuation joins the rendered flags into one multi-line shell
// command.
const curlContinuation = " \\\n\t"

// renderCurl produces a curl command reproducing the wire request:
// verbose flag, method, every header in store order, the body (inline
// for text, @file for streamed files), and finally the resolved URL.
func renderCurl(method, resolvedURL string, headers HeaderSet, body *wireBody) string {
	parts := []string{"curl -v"}

	parts = append(parts, fmt.Sprintf("-X %s", method))

	headers.Each(func(name, value string) {
		parts = append(parts, fmt.Sprintf("-H %q", name+": "+value))
	})

	if body != nil {
		switch {
		case body.filePath != "":
			parts = append(parts, fmt.Sprintf("--data-binary @%s", body.filePath))
		case len(body.data) > 0:
			parts = append(parts, fmt.Sprintf("--data %q", string(body.data)))
		}
	}

	parts = append(parts, fmt.Sprintf("%q", resolvedURL))
	return strings.Join(parts, curlContinuation)
}

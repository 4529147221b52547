package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/tidwall/gjson"
)

const (
	exampleHost = "127.0.0.1:8529"
	exampleDate = "Sun, 18 Oct 2026 09:00:00 GMT"
)

// Save renders an acceptance request/response pair as a markdown example
// into $SEGMENTDB_EXAMPLES_PATH. Nothing is written when it is not set.
func Save(response *apitest.Response, title string) {
	dir := os.Getenv("SEGMENTDB_EXAMPLES_PATH")
	if dir == "" {
		return
	}

	request := response.Request
	target := request.URL.Path
	if request.URL.RawQuery != "" {
		target += "?" + request.URL.RawQuery
	}
	requestBody := formatBody(response.BodyRequestString())

	s := &strings.Builder{}
	fmt.Fprintf(s, "# %s\n\n", title)
	fmt.Fprintf(s, "`%s %s` answers `%s`.\n\n", request.Method, target, response.Status)

	s.WriteString("```sh\ncurl")
	if request.Method != "GET" {
		s.WriteString(" -X " + request.Method)
	}
	fmt.Fprintf(s, " \"http://%s%s\"", exampleHost, target)
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			fmt.Fprintf(s, " \\\n  -H \"%s: %s\"", k, v)
		}
	}
	if requestBody != "" {
		fmt.Fprintf(s, " \\\n  -d '%s'", requestBody)
	}
	s.WriteString("\n```\n\n")

	s.WriteString("```http\n")
	fmt.Fprintf(s, "%s %s %s\nHost: %s\n", request.Method, target, request.Proto, exampleHost)
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			fmt.Fprintf(s, "%s: %s\n", k, v)
		}
	}
	if requestBody != "" {
		s.WriteString("\n" + requestBody + "\n")
	}

	fmt.Fprintf(s, "\n%s %s\n", response.Proto, response.Status)
	for _, k := range sortedKeys(response.Header) {
		if k == "Date" {
			fmt.Fprintf(s, "Date: %s\n", exampleDate)
			continue
		}
		for _, v := range response.Header[k] {
			fmt.Fprintf(s, "%s: %s\n", k, v)
		}
	}
	if body := formatBody(response.BodyString()); body != "" {
		s.WriteString("\n" + body + "\n")
	}
	s.WriteString("```\n")

	filename := filepath.Join(dir, exampleFilename(title))
	err := os.WriteFile(filename, []byte(s.String()), 0666)
	if err != nil {
		fmt.Println("ERROR: save example:", err)
	}
}

// formatBody indents a single JSON document. Streams of JSON lines stay one
// document per line.
func formatBody(body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	if strings.Contains(body, "\n") || !gjson.Valid(body) {
		return body
	}
	return strings.TrimSpace(gjson.Get(body, "@pretty").Raw)
}

// exampleFilename turns "Find - hash index" into "find_hash_index.md".
func exampleFilename(title string) string {
	words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return strings.Join(words, "_") + ".md"
}

func sortedKeys(header map[string][]string) []string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

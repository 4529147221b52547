package service

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestExampleFilename(t *testing.T) {
	AssertEqual(exampleFilename("Find - hash index"), "find_hash_index.md")
	AssertEqual(exampleFilename("Create collection - already exists"), "create_collection_already_exists.md")
}

func TestFormatBody(t *testing.T) {
	AssertEqual(formatBody(""), "")
	AssertEqual(formatBody(`{"a":1}`), "{\n  \"a\": 1\n}")

	lines := "{\"_key\":\"1\"}\n{\"_key\":\"2\"}\n"
	AssertEqual(formatBody(lines), "{\"_key\":\"1\"}\n{\"_key\":\"2\"}")

	AssertEqual(formatBody("not json"), "not json")
}

package service

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
	"github.com/tidwall/gjson"
)

type JSON = map[string]interface{}

// lines splits a JSON lines body.
func lines(body string) []gjson.Result {
	result := []gjson.Result{}
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		if line == "" {
			continue
		}
		result = append(result, gjson.Parse(line))
	}
	return result
}

func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	a.Alternative("Create collection", func(a *biff.A) {
		resp := apiRequest("POST", "/collections").
			WithBodyJson(JSON{
				"name":        "my-collection",
				"compression": "snappy",
			}).Do()
		Save(resp, "Create collection")

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		body := gjson.Parse(resp.BodyString())
		biff.AssertEqual(body.Get("name").String(), "my-collection")
		biff.AssertEqual(body.Get("status").String(), "available")
		biff.AssertEqual(body.Get("total").Int(), int64(0))
		biff.AssertEqual(body.Get("compression").String(), "snappy")
		biff.AssertEqual(body.Get("key_generator").String(), "traditional")
		biff.AssertNotEqual(body.Get("id").String(), "")

		a.Alternative("Create collection twice", func(a *biff.A) {
			resp := apiRequest("POST", "/collections").
				WithBodyJson(JSON{"name": "my-collection"}).Do()
			Save(resp, "Create collection - already exists")

			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})

		a.Alternative("Retrieve collection", func(a *biff.A) {
			resp := apiRequest("GET", "/collections/my-collection").Do()
			Save(resp, "Retrieve collection")

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqual(gjson.Get(resp.BodyString(), "name").String(), "my-collection")
		})

		a.Alternative("List collections", func(a *biff.A) {
			resp := apiRequest("GET", "/collections").Do()
			Save(resp, "List collections")

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			names := gjson.Get(resp.BodyString(), "#.name").Array()
			biff.AssertEqual(len(names), 1)
			biff.AssertEqual(names[0].String(), "my-collection")
		})

		a.Alternative("Drop collection", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/my-collection:dropCollection").
				Do()
			Save(resp, "Drop collection")

			biff.AssertEqual(resp.StatusCode, http.StatusOK)

			a.Alternative("Get dropped collection", func(a *biff.A) {
				resp := apiRequest("GET", "/collections/my-collection").
					Do()
				Save(resp, "Get collection - not found")

				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})
		})

		a.Alternative("Insert one", func(a *biff.A) {
			myDocument := JSON{
				"_key":    "fulanez",
				"name":    "Fulanez",
				"address": "Elm Street 11",
			}
			resp := apiRequest("POST", "/collections/my-collection:insert").
				WithBodyJson(myDocument).Do()
			Save(resp, "Insert one")

			biff.AssertEqual(resp.StatusCode, http.StatusCreated)
			inserted := gjson.Parse(resp.BodyString())
			biff.AssertEqual(inserted.Get("_key").String(), "fulanez")
			rev := inserted.Get("_rev").String()
			biff.AssertNotEqual(rev, "")

			a.Alternative("Get document", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:getDocument").
					WithBodyJson(JSON{"key": "fulanez"}).Do()
				Save(resp, "Get document")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{
					"_key":    "fulanez",
					"_rev":    rev,
					"name":    "Fulanez",
					"address": "Elm Street 11",
				})
			})

			a.Alternative("Get document - not found", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:getDocument").
					WithBodyJson(JSON{"key": "nobody"}).Do()
				Save(resp, "Get document - not found")

				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})

			a.Alternative("Insert duplicated key", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:insert").
					WithBodyJson(myDocument).Do()
				Save(resp, "Insert - duplicated key")

				biff.AssertEqual(resp.StatusCode, http.StatusConflict)
			})

			a.Alternative("Update", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:update").
					WithBodyJson(JSON{
						"key": "fulanez",
						"rev": rev,
						"document": JSON{
							"address": nil,
							"age":     33,
						},
					}).Do()
				Save(resp, "Update")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				updated := gjson.Parse(resp.BodyString())
				biff.AssertEqual(updated.Get("_oldRev").String(), rev)
				biff.AssertEqual(updated.Get("document.name").String(), "Fulanez")
				biff.AssertEqual(updated.Get("document.age").Int(), int64(33))
				biff.AssertFalse(updated.Get("document.address").Exists())

				a.Alternative("Update with stale revision", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:update").
						WithBodyJson(JSON{
							"key":      "fulanez",
							"rev":      rev,
							"document": JSON{"age": 34},
						}).Do()
					Save(resp, "Update - revision conflict")

					biff.AssertEqual(resp.StatusCode, http.StatusConflict)
				})
			})

			a.Alternative("Replace", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:replace").
					WithBodyJson(JSON{
						"key":      "fulanez",
						"document": JSON{"name": "Menganez"},
					}).Do()
				Save(resp, "Replace")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				replaced := gjson.Parse(resp.BodyString())
				biff.AssertEqual(replaced.Get("document.name").String(), "Menganez")
				biff.AssertFalse(replaced.Get("document.address").Exists())
			})

			a.Alternative("Remove", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:remove").
					WithBodyJson(JSON{"key": "fulanez"}).Do()
				Save(resp, "Remove")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqual(gjson.Get(resp.BodyString(), "_key").String(), "fulanez")

				resp = apiRequest("GET", "/collections/my-collection").Do()
				biff.AssertEqual(gjson.Get(resp.BodyString(), "total").Int(), int64(0))
			})

			a.Alternative("Find with fullscan", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:find").
					WithBodyJson(JSON{
						"mode":  "fullscan",
						"skip":  0,
						"limit": 1,
						"filter": JSON{
							"name": "Fulanez",
						},
					}).Do()
				Save(resp, "Find - fullscan")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				found := lines(resp.BodyString())
				biff.AssertEqual(len(found), 1)
				biff.AssertEqual(found[0].Get("address").String(), "Elm Street 11")
			})

			a.Alternative("Figures", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:figures").Do()
				Save(resp, "Figures")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				f := gjson.Parse(resp.BodyString())
				biff.AssertEqual(f.Get("documents").Int(), int64(1))
				biff.AssertTrue(f.Get("journal").Exists())
			})

			a.Alternative("Rotate and compact", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:rotate").Do()
				Save(resp, "Rotate journal")
				biff.AssertEqual(resp.StatusCode, http.StatusOK)

				resp = apiRequest("POST", "/collections/my-collection:remove").
					WithBodyJson(JSON{"key": "fulanez"}).Do()
				biff.AssertEqual(resp.StatusCode, http.StatusOK)

				resp = apiRequest("POST", "/collections/my-collection:rotate").Do()
				biff.AssertEqual(resp.StatusCode, http.StatusOK)

				resp = apiRequest("POST", "/collections/my-collection:compact").Do()
				Save(resp, "Compact")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertTrue(len(gjson.Get(resp.BodyString(), "removed").Array()) >= 1)
			})
		})

		a.Alternative("Insert many", func(a *biff.A) {

			myDocuments := []JSON{
				{"_key": "1", "name": "Alfonso", "age": 30},
				{"_key": "2", "name": "Gerardo", "age": 20},
				{"_key": "3", "name": "Alfonso", "age": 40},
			}

			body := ""
			for _, myDocument := range myDocuments {
				myDocument, _ := json.Marshal(myDocument)
				body += string(myDocument) + "\n"
			}
			resp := apiRequest("POST", "/collections/my-collection:insert").
				WithBodyString(body).Do()
			Save(resp, "Insert many")

			biff.AssertEqual(resp.StatusCode, http.StatusCreated)
			biff.AssertEqual(len(lines(resp.BodyString())), 3)

			a.Alternative("Find all", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:find").
					WithBodyJson(JSON{"limit": -1}).Do()
				Save(resp, "Find - all")

				found := lines(resp.BodyString())
				biff.AssertEqual(len(found), 3)
				for i, doc := range found {
					biff.AssertEqual(doc.Get("_key").String(), myDocuments[i]["_key"])
				}
			})

			a.Alternative("Find with filter and skip", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:find").
					WithBodyJson(JSON{
						"limit":  10,
						"skip":   1,
						"filter": JSON{"age": JSON{"$gt": 10}},
					}).Do()
				Save(resp, "Find - fullscan with filter")

				found := lines(resp.BodyString())
				biff.AssertEqual(len(found), 2)
				biff.AssertEqual(found[0].Get("_key").String(), "2")
			})

			a.Alternative("Find with bad mode", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:find").
					WithBodyJson(JSON{"mode": "psychic"}).Do()
				Save(resp, "Find - bad mode")

				biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
			})

			a.Alternative("Truncate", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:truncate").Do()
				Save(resp, "Truncate")

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 3})
			})

			a.Alternative("Create index - hash", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:createIndex").
					WithBodyJson(JSON{
						"name":    "by-name",
						"type":    "hash",
						"options": JSON{"field": "name"},
					}).Do()
				Save(resp, "Create index - hash")

				biff.AssertEqual(resp.StatusCode, http.StatusCreated)
				biff.AssertEqualJson(resp.BodyJson(), JSON{
					"name":    "by-name",
					"type":    "hash",
					"field":   "name",
					"sparse":  false,
					"unique":  false,
					"entries": 3,
				})

				a.Alternative("Create index twice", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:createIndex").
						WithBodyJson(JSON{
							"name":    "by-name",
							"type":    "hash",
							"options": JSON{"field": "name"},
						}).Do()

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
				})

				a.Alternative("List indexes", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:listIndexes").Do()
					Save(resp, "List indexes")

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					biff.AssertEqual(gjson.Get(resp.BodyString(), "#.name").String(), `["by-name"]`)
				})

				a.Alternative("Find with hash index", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:find").
						WithBodyJson(JSON{
							"mode":    "index",
							"index":   "by-name",
							"limit":   10,
							"options": JSON{"value": "Alfonso"},
						}).Do()
					Save(resp, "Find - hash index")

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					found := lines(resp.BodyString())
					biff.AssertEqual(len(found), 2)
					for _, doc := range found {
						biff.AssertEqual(doc.Get("name").String(), "Alfonso")
					}
				})

				a.Alternative("Find - index not found", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:find").
						WithBodyJson(JSON{
							"mode":  "index",
							"index": "not-found",
						}).Do()
					Save(resp, "Find - index not found")

					biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
				})

				a.Alternative("Drop index", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:dropIndex").
						WithBodyJson(JSON{"name": "by-name"}).Do()
					Save(resp, "Drop index")

					biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

					resp = apiRequest("POST", "/collections/my-collection:dropIndex").
						WithBodyJson(JSON{"name": "by-name"}).Do()
					biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
				})
			})

			a.Alternative("Create index - unique violated", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:createIndex").
					WithBodyJson(JSON{
						"name":    "unique-name",
						"type":    "hash",
						"options": JSON{"field": "name", "unique": true},
					}).Do()
				Save(resp, "Create index - unique violated")

				biff.AssertEqual(resp.StatusCode, http.StatusConflict)
			})

			a.Alternative("Create index - btree", func(a *biff.A) {
				resp := apiRequest("POST", "/collections/my-collection:createIndex").
					WithBodyJson(JSON{
						"name":    "by-age",
						"type":    "btree",
						"options": JSON{"fields": []string{"age"}},
					}).Do()
				Save(resp, "Create index - btree")

				biff.AssertEqual(resp.StatusCode, http.StatusCreated)

				a.Alternative("Find with btree - reverse order", func(a *biff.A) {
					resp := apiRequest("POST", "/collections/my-collection:find").
						WithBodyJson(JSON{
							"mode":  "index",
							"index": "by-age",
							"limit": 10,
							"options": JSON{
								"reverse": true,
								"from":    JSON{"age": 20},
								"to":      JSON{"age": 30},
							},
						}).Do()
					Save(resp, "Find - btree reverse range")

					biff.AssertEqual(resp.StatusCode, http.StatusOK)
					found := lines(resp.BodyString())
					biff.AssertEqual(len(found), 2)
					biff.AssertEqual(found[0].Get("_key").String(), "1")
					biff.AssertEqual(found[1].Get("_key").String(), "2")
				})
			})
		})

		a.Alternative("Insert empty body", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/my-collection:insert").Do()

			biff.AssertEqual(resp.StatusCode, http.StatusNoContent)
		})

		a.Alternative("Insert malformed", func(a *biff.A) {
			resp := apiRequest("POST", "/collections/my-collection:insert").
				WithBodyString(`{"name": ]`).Do()
			Save(resp, "Insert - malformed")

			biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		})
	})

	a.Alternative("Create collection - bad name", func(a *biff.A) {
		resp := apiRequest("POST", "/collections").
			WithBodyJson(JSON{"name": "../etc"}).Do()
		Save(resp, "Create collection - bad name")

		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})

	a.Alternative("Insert on not existing collection", func(a *biff.A) {
		resp := apiRequest("POST", "/collections/my-collection:insert").
			WithBodyJson(JSON{"hello": "world"}).Do()
		Save(resp, "Insert - collection not found")

		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
	})

	a.Alternative("Status", func(a *biff.A) {
		resp := apiRequest("GET", "/status").Do()
		Save(resp, "Status")

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
		biff.AssertEqual(gjson.Get(resp.BodyString(), "status").String(), "operating")
	})
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulldump/segmentdb/bootstrap"
	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/configuration"
	"github.com/fulldump/segmentdb/logging"
)

type JSON = map[string]any

func Parallel(workers int, f func()) {
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	wg.Wait()
}

func TempDir() (string, func()) {
	dir, err := os.MkdirTemp("", "segmentdb_bench_*")
	if err != nil {
		panic("Could not create temp directory: " + err.Error())
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     1024,
			MaxIdleConnsPerHost: 1024,
			MaxIdleConns:        1024,
		},
		Timeout: 30 * time.Second,
	}
}

func CreateCollection(base string) string {

	name := "col-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	payload, _ := json.Marshal(JSON{"name": name})

	req, _ := http.NewRequest("POST", base+"/v1/collections", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()

	io.Copy(os.Stdout, resp.Body)

	return name
}

// Server is an embedded segmentdb started when no base url is given.
type Server struct {
	Dir  string
	stop func()
}

// StartServer fills c.Base. It returns nil when c.Base points to a running
// server.
func StartServer(c *Config) *Server {
	if c.Base != "" {
		return nil
	}

	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	conf := configuration.Default()
	conf.Dir = dir
	conf.LogLevel = "warn"
	c.Base = "http://" + conf.HttpAddr

	start, stop := bootstrap.Bootstrap(&conf)
	go start()

	for i := 0; i < 100; i++ {
		resp, err := http.Get(c.Base + "/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	return &Server{Dir: dir, stop: stop}
}

// Reopen stops the server and measures how long recovery of the collection
// takes.
func (s *Server) Reopen(name string, n int64) {
	s.stop()

	t0 := time.Now()
	col, err := collection.Open(path.Join(s.Dir, "collection-"+name), collection.Config{
		Logger: logging.Discard,
	})
	if err != nil {
		fmt.Println("ERROR: open:", err.Error())
		return
	}
	took := time.Since(t0)
	defer col.Close()

	fmt.Println("open took:", took, "documents:", col.Count())
	fmt.Printf("Throughput Open: %.2f rows/sec\n", float64(n)/took.Seconds())
}

// Preload inserts n documents with keys "0".."n-1" in a single stream.
func Preload(client *http.Client, base, collectionName string, n int64, workers int) {
	fmt.Println("Preload documents...")
	r, w := io.Pipe()

	encoder := json.NewEncoder(w)
	go func() {
		for i := int64(0); i < n; i++ {
			encoder.Encode(JSON{
				"_key":   strconv.FormatInt(i, 10),
				"value":  0,
				"worker": i % int64(workers),
			})
		}
		w.Close()
	}()

	req, err := http.NewRequest("POST", base+"/v1/collections/"+collectionName+":insert", r)
	if err != nil {
		fmt.Println("ERROR: new request:", err.Error())
		os.Exit(3)
	}

	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("ERROR: do request:", err.Error())
		os.Exit(4)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// ForEachKey calls f concurrently once per preloaded key.
func ForEachKey(n int64, workers int, f func(key string)) {
	next := int64(-1)
	Parallel(workers, func() {
		for {
			i := atomic.AddInt64(&next, 1)
			if i >= n {
				return
			}
			f(strconv.FormatInt(i, 10))
		}
	})
}

func Post(client *http.Client, url string, body JSON) {
	payload, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		fmt.Println("ERROR: do request:", err.Error())
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Println("ERROR: bad status:", resp.Status)
	}
}

package main

import (
	"fmt"
	"time"
)

func TestUpdate(c Config) {

	server := StartServer(&c)

	collectionName := CreateCollection(c.Base)

	client := NewClient()
	defer client.CloseIdleConnections()

	Preload(client, c.Base, collectionName, c.N, c.Workers)

	updateURL := fmt.Sprintf("%s/v1/collections/%s:update", c.Base, collectionName)

	t0 := time.Now()
	ForEachKey(c.N, c.Workers, func(key string) {
		Post(client, updateURL, JSON{
			"key":      key,
			"document": JSON{"value": 1},
		})
	})

	took := time.Since(t0)
	fmt.Println("updated:", c.N)
	fmt.Println("took:", took)
	fmt.Printf("Throughput: %.2f rows/sec\n", float64(c.N)/took.Seconds())

	if server != nil {
		server.Reopen(collectionName, c.N)
	}
}

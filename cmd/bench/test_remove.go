package main

import (
	"fmt"
	"time"
)

func TestRemove(c Config) {

	server := StartServer(&c)

	collectionName := CreateCollection(c.Base)

	client := NewClient()
	defer client.CloseIdleConnections()

	Preload(client, c.Base, collectionName, c.N, c.Workers)

	removeURL := fmt.Sprintf("%s/v1/collections/%s:remove", c.Base, collectionName)

	t0 := time.Now()
	ForEachKey(c.N, c.Workers, func(key string) {
		Post(client, removeURL, JSON{"key": key})
	})

	took := time.Since(t0)
	fmt.Println("removed:", c.N)
	fmt.Println("took:", took)
	fmt.Printf("Throughput: %.2f rows/sec\n", float64(c.N)/took.Seconds())

	if server != nil {
		server.Reopen(collectionName, c.N)
	}
}

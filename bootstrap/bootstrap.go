package bootstrap

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fulldump/box"

	"github.com/fulldump/segmentdb/api"
	"github.com/fulldump/segmentdb/configuration"
	"github.com/fulldump/segmentdb/database"
	"github.com/fulldump/segmentdb/logging"
	"github.com/fulldump/segmentdb/service"
)

var VERSION = "dev"

func NewDatabase(c *configuration.Configuration, logger logging.Logger) *database.Database {
	return database.NewDatabase(&database.Config{
		Dir:                 c.Dir,
		JournalSize:         c.JournalSize,
		WaitForSync:         c.WaitForSync,
		SyncInterval:        c.SyncInterval,
		Compression:         c.Compression,
		KeyGenerator:        c.KeyGenerator,
		LockTimeout:         c.LockTimeout,
		DeadlockDetection:   c.DeadlockDetection,
		CompactionInterval:  c.CompactionInterval,
		CompactionDeadRatio: c.CompactionDeadRatio,
		CompactionMinDead:   c.CompactionMinDead,
		Logger:              logger,
	})
}

func Bootstrap(c *configuration.Configuration) (start, stop func()) {

	logger := logging.NewDefaultLogger(logging.ParseLevel(c.LogLevel))
	db := NewDatabase(c, logger)

	b := api.Build(service.NewService(db), VERSION)
	if c.EnableCompression {
		b.WithInterceptors(api.Compression)
	}
	b.WithInterceptors(
		api.AccessLog(log.New(os.Stdout, "ACCESS: ", log.Lshortfile)),
		api.PrettyErrorInterceptor,
		api.InterceptorUnavailable(db),
		api.RecoverFromPanic(logger),
	)

	s := &http.Server{
		Addr:    c.HttpAddr,
		Handler: box.Box2Http(b),
	}

	ln, err := net.Listen("tcp", c.HttpAddr)
	if err != nil {
		log.Println("ERROR:", err.Error())
		os.Exit(-1)
	}
	log.Println("listening on", c.HttpAddr)

	stopOnce := sync.Once{}
	stop = func() {
		stopOnce.Do(func() {
			db.Stop()
			s.Shutdown(context.Background())
		})
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for {
			sig := <-signalChan
			fmt.Println("Signal received", sig.String())
			stop()
		}
	}()

	start = func() {

		wg := &sync.WaitGroup{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Start()
			if err != nil {
				fmt.Println(err.Error())
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ln)
			if err != nil && err != http.ErrServerClosed {
				fmt.Println(err.Error())
			}
		}()

		wg.Wait()
	}

	return
}

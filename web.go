package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func robotsHandler(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "User-agent: *\nDisallow: /\n\n\n")
}

func createRouter() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/robots.txt", robotsHandler).Methods("GET")
	router.HandleFunc("/stop", func(w http.ResponseWriter, _ *http.Request) {
		mainCtxCancel()
		w.WriteHeader(200)
		w.Write([]byte("Success"))
	}).Methods("GET")

	router.HandleFunc("/api/v1/metadata", apiHandle(apiMetadata)).Methods("GET")
	router.HandleFunc("/api/v1/rebuild", apiHandle(apiRebuild)).Methods("POST")
	router.HandleFunc("/api/v1/tiles/{col:[0-9]+}/{row:[0-9]+}", tileHandler).Methods("GET")
	router.HandleFunc("/api/v1/overview", overviewHandler).Methods("GET")
	router.HandleFunc("/api/v1/cache", apiHandle(apiClearCache)).Methods("DELETE")
	router.HandleFunc("/api/v1/cache/source", apiHandle(apiClearCacheFor)).Methods("DELETE")
	router.HandleFunc("/api/v1/stats", apiHandle(apiStats)).Methods("GET")
	router.HandleFunc("/api/v1/ws", wsClientHandlerWrapper(mainCtx.Done()))

	router.HandleFunc("/debug/pprof/", pprof.Index)
	router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("/debug/pprof/profile", pprof.Profile)
	router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	router.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	router.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	router.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	router.HandleFunc("/debug/gc", func(w http.ResponseWriter, r *http.Request) {
		runtime.GC()
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	router1 := handlers.ProxyHeaders(router)
	router2 := handlers.CompressHandler(router1)
	router3 := handlers.CustomLoggingHandler(os.Stdout, router2, customLogger)
	router4 := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(router3)
	return router4
}

func runWeb(exitchan <-chan struct{}) {
	addr := cfg.GetDSString("127.0.0.1:3003", "web", "listen_addr")
	if addr == "" {
		log.Println("Not starting web server because listen address is empty")
		<-exitchan
		return
	}
	websrv := http.Server{
		Addr:              addr,
		Handler:           createRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Println("Web server listens on " + addr)
	go func() {
		if err := websrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Web server returned an error: %s", err)
			mainCtxCancel()
		}
	}()
	<-exitchan
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := websrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %+v", err)
	}
}

package main

import (
	"io"
	"log"

	"github.com/gorilla/handlers"
	"github.com/natefinch/lumberjack"
)

func customLogger(_ io.Writer, params handlers.LogFormatterParams) {
	r := params.Request
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	ua := r.Header.Get("user-agent")
	log.Println("["+ip+"]", r.Method, params.StatusCode, r.RequestURI, params.Size, "["+ua+"]")
}

func createLogger() *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: cfg.GetDSString("./logs/SlideChunk.log", "logs_path"),
		MaxSize:  10,
		Compress: true,
	}
}

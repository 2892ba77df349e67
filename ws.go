package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var tasksProgressBroadcaster = NewBroadcaster()

func wsClientHandlerWrapper(done <-chan struct{}) func(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: 2 * time.Second,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			log.Printf("Websocket error: %v %v", status, reason.Error())
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		EnableCompression: true,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Print("Websocket upgrade error:", err)
			return
		}
		defer c.Close()
		errChan := make(chan error, 1)
		go func() {
			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					errChan <- err
					return
				}
			}
		}()
		msgc := tasksProgressBroadcaster.Subscribe()
		defer tasksProgressBroadcaster.Unsubscribe(msgc)
		for {
			select {
			case m := <-msgc:
				b, err := json.Marshal(m)
				if err != nil {
					log.Printf("Failed to marshal progress: %v", err)
					return
				}
				c.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			case <-errChan:
				return
			case <-done:
				c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
				return
			}
		}
	}
}

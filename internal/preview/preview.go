// preview serves the current view to a browser and pushes every change over
// a websocket. Clicking a highlight in the page activates it.
package preview

import (
	"embed"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("taglight.preview")

// Message is sent over the websocket in both directions.
type Message struct {
	Op    string `json:"op"` // "render", "closed" from the server; "activate" from the page
	Title string `json:"title,omitempty"`
	HTML  string `json:"html,omitempty"`
	ID    int    `json:"id,omitempty"`
}

//go:embed static/*
var staticFiles embed.FS

type Server struct {
	router     *mux.Router
	upgrader   websocket.Upgrader
	onActivate func(id int)

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	last    *Message

	httpServer *http.Server
	url        string
}

// New returns a preview server calling onActivate with the id of clicked
// highlights.
func New(onActivate func(id int)) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		onActivate: onActivate,
		clients:    map[*websocket.Conn]*sync.Mutex{},
	}
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr (":0" picks a free port) and returns the URL of the
// page. Starting twice returns the same URL.
func (s *Server) Start(addr string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return s.url, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.httpServer = &http.Server{Handler: s.router}
	s.url = "http://" + l.Addr().String() + "/"

	go func() {
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("preview server error: %s", err.Error())
		}
	}()
	log.Infof("preview at %s", s.url)
	return s.url, nil
}

// URL returns the page address, empty before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpServer
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// Render replaces the page contents for every client, and for clients
// connecting later.
func (s *Server) Render(title, html string) error {
	return s.broadcast(Message{Op: "render", Title: title, HTML: html})
}

// Clear empties the page.
func (s *Server) Clear() error {
	return s.broadcast(Message{Op: "closed"})
}

func (s *Server) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.last = &msg
	clients := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for conn, lock := range s.clients {
		clients[conn] = lock
	}
	s.mu.Unlock()

	for conn, lock := range clients {
		lock.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		lock.Unlock()
		if err != nil {
			log.Warningf("broadcast error: %s", err.Error())
			s.drop(conn)
		}
	}
	return nil
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// handleWS upgrades the connection, sends the current view and reads
// activation requests until the page goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("ws upgrade error: %s", err.Error())
		return
	}
	lock := &sync.Mutex{}

	s.mu.Lock()
	s.clients[conn] = lock
	last := s.last
	s.mu.Unlock()
	defer s.drop(conn)

	if last != nil {
		lock.Lock()
		err := conn.WriteJSON(last)
		lock.Unlock()
		if err != nil {
			return
		}
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Op {
		case "activate":
			if s.onActivate != nil {
				s.onActivate(msg.ID)
			}
		default:
			log.Debugf("ignoring %q message", msg.Op)
		}
	}
}

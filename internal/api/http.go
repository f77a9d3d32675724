package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/pv/sensorhub-go/internal/ingest"
	"github.com/pv/sensorhub-go/internal/storage"
)

// Server реализует HTTP API приёма и чтения показаний.
type Server struct {
	store  storage.Store
	ingest *ingest.Service
	hub    *Hub
	mux    *http.ServeMux
}

// NewServer создаёт HTTP сервер с зарегистрированными хендлерами.
func NewServer(store storage.Store, svc *ingest.Service, hub *Hub) *Server {
	s := &Server{
		store:  store,
		ingest: svc,
		hub:    hub,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// Listen запускает сервер и блокируется до остановки.
func (s *Server) Listen(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Sensor Data API is running."))
	})
	apiRoutes := []struct {
		path    string
		handler http.Handler
	}{
		{"/api/sensor_data", http.HandlerFunc(s.handleSensorData)},
		{"/api/sensor_data/latest", http.HandlerFunc(s.handleLatest)},
		{"/api/ws", http.HandlerFunc(s.handleWS)},
	}
	for _, route := range apiRoutes {
		s.mux.Handle(route.path, s.withCORS(route.handler))
	}
}

// handleSensorData принимает показание (POST) и отдаёт всю историю (GET).
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var raw ingest.RawReading
		if err := decodeJSON(r, &raw); err != nil {
			log.Printf("[http] invalid sensor data: %v", err)
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid sensor data format"})
			return
		}
		saved, err := s.ingest.Ingest(r.Context(), raw)
		if err != nil {
			var vErr *ingest.ValidationError
			if errors.As(err, &vErr) {
				log.Printf("[http] invalid sensor data: %v", vErr)
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid sensor data format"})
				return
			}
			log.Printf("[http] save reading failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"message": "Error saving data",
				"error":   err.Error(),
			})
			return
		}
		logDebugf("[http] reading saved id=%s", saved.ID)
		writeJSON(w, http.StatusCreated, map[string]any{
			"message": "Sensor data saved successfully!",
			"data":    saved,
		})
	case http.MethodGet:
		readings, err := s.store.History(r.Context())
		if err != nil {
			log.Printf("[http] fetch history failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"message": "Error fetching data",
				"error":   err.Error(),
			})
			return
		}
		if readings == nil {
			readings = []storage.Reading{}
		}
		writeJSON(w, http.StatusOK, readings)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleLatest отдаёт самую свежую запись.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	latest, err := s.store.Latest(r.Context())
	if errors.Is(err, storage.ErrNoReadings) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No sensor data yet"})
		return
	}
	if err != nil {
		log.Printf("[http] fetch latest failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Error fetching data",
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket hub not configured", http.StatusServiceUnavailable)
		return
	}
	s.hub.ServeWS(w, r)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package api

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pv/sensorhub-go/internal/storage"
)

// Имена событий push-канала.
const (
	eventNewData    = "new_data"
	eventSensorData = "sensorData"
)

type wsEvent struct {
	Event string          `json:"event"`
	Data  storage.Reading `json:"data"`
}

// Hub держит набор активных подписчиков и раздаёт им показания по WebSocket:
// немедленно при новой записи и периодически последнюю известную.
type Hub struct {
	store    storage.Store
	interval time.Duration

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// Subscriber — одно живое подключение с собственным периодическим таймером.
type Subscriber struct {
	client *wsClient
	cancel context.CancelFunc
}

// NewHub создаёт пустой хаб. interval — период фоновой рассылки sensorData.
func NewHub(store storage.Store, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	return &Hub{
		store:    store,
		interval: interval,
		subs:     map[*Subscriber]struct{}{},
	}
}

// ServeWS обрабатывает подключение клиента WebSocket.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conn, rw, err := websocketUpgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Register(conn, rw)
	logDebugf("[hub] client connected: %s", conn.RemoteAddr())
}

// Register добавляет подключение в активный набор и запускает его
// периодическую задачу.
func (h *Hub) Register(conn net.Conn, rw *bufio.ReadWriter) *Subscriber {
	client := newWSClient(conn, rw)
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscriber{client: client, cancel: cancel}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go client.writePump(func() {
		h.Unregister(sub)
	})
	go h.pollLoop(ctx, sub)
	return sub
}

// Unregister останавливает таймер подписчика и убирает его из набора.
// Идемпотентен: безопасно зовётся и из явного disconnect, и из обработчика
// ошибки записи.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	_, active := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if !active {
		return
	}
	sub.cancel()
	sub.client.close()
	logDebugf("[hub] client disconnected")
}

// NotifyNewReading рассылает запись всем активным подписчикам. Best-effort:
// сбой доставки одному подписчику не трогает остальных и не виден источнику.
func (h *Hub) NotifyNewReading(r storage.Reading) {
	data, err := json.Marshal(wsEvent{Event: eventNewData, Data: r})
	if err != nil {
		return
	}
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		if !sub.client.enqueue(data) {
			// Клиент не успевает читать — отрубаем.
			go h.Unregister(sub)
		}
	}
}

// Subscribers возвращает число активных подписчиков.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// pollLoop раз в интервал читает последнюю запись и шлёт её подписчику.
// Цикл у каждого подписчика свой: медленный потребитель не задерживает чужие
// таймеры.
func (h *Hub) pollLoop(ctx context.Context, sub *Subscriber) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		latest, err := h.store.Latest(ctx)
		if errors.Is(err, storage.ErrNoReadings) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logDebugf("[hub] latest read failed: %v", err)
			continue
		}
		data, err := json.Marshal(wsEvent{Event: eventSensorData, Data: latest})
		if err != nil {
			continue
		}
		if !sub.client.enqueue(data) {
			go h.Unregister(sub)
			return
		}
	}
}

// --- WebSocket utils (минимальная реализация только для server-push) ---

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func websocketUpgrade(w http.ResponseWriter, r *http.Request) (net.Conn, *bufio.ReadWriter, error) {
	if !headerContains(r.Header, "Connection", "Upgrade") || !headerContains(r.Header, "Upgrade", "websocket") {
		return nil, nil, errors.New("upgrade request expected")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, nil, errors.New("missing Sec-WebSocket-Key")
	}
	accept := computeAcceptKey(key)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http hijacking not supported")
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, err
	}
	if rw == nil {
		rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	}

	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := rw.WriteString(response); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, rw, nil
}

func computeAcceptKey(key string) string {
	h := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

func headerContains(h http.Header, name, value string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return true
			}
		}
	}
	return false
}

type wsClient struct {
	conn net.Conn
	rw   *bufio.ReadWriter
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSClient(conn net.Conn, rw *bufio.ReadWriter) *wsClient {
	return &wsClient{
		conn: conn,
		rw:   rw,
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

// enqueue кладёт сообщение в очередь клиента без блокировки. false означает,
// что сообщение не доставлено: клиент закрыт или очередь переполнена.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) writePump(onClose func()) {
	defer onClose()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := writeTextFrame(c.rw, msg); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func writeTextFrame(w *bufio.ReadWriter, payload []byte) error {
	var header [10]byte
	header[0] = 0x81 // FIN + text frame
	var headerLen int
	switch {
	case len(payload) < 126:
		header[1] = byte(len(payload))
		headerLen = 2
	case len(payload) <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
		headerLen = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(len(payload)))
		headerLen = 10
	}
	if _, err := w.Write(header[:headerLen]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

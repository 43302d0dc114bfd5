package api

import (
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/byebyebruce/rollbackserver/logic"
	"github.com/byebyebruce/rollbackserver/logic/asteroid"
	"github.com/byebyebruce/rollbackserver/logic/room"

	l4g "github.com/alecthomas/log4go"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

//go:embed index.html
var index string

// FeedPeriod websocket推送间隔
const FeedPeriod = time.Second / 20

// FeedShip 一艘船
type FeedShip struct {
	Seat     uint8   `msgpack:"seat"`
	Active   bool    `msgpack:"active"`
	X        float32 `msgpack:"x"`
	Y        float32 `msgpack:"y"`
	VX       float32 `msgpack:"vx"`
	VY       float32 `msgpack:"vy"`
	Rotation float32 `msgpack:"rot"`
}

// FeedBullet 一颗子弹
type FeedBullet struct {
	Owner uint8   `msgpack:"owner"`
	X     float32 `msgpack:"x"`
	Y     float32 `msgpack:"y"`
}

// FeedFrame one websocket message, msgpack encoded
type FeedFrame struct {
	Room      uint64       `msgpack:"room"`
	Frame     int32        `msgpack:"frame"`
	Validated int32        `msgpack:"validated"`
	Ships     []FeedShip   `msgpack:"ships"`
	Bullets   []FeedBullet `msgpack:"bullets"`
}

// WebAPI http api
type WebAPI struct {
	m        *logic.RoomManager
	kcpAddr  string
	upgrader websocket.Upgrader
	tpl      *template.Template
}

// NewWebAPI 构造
func NewWebAPI(m *logic.RoomManager, kcpAddr string) *WebAPI {
	return &WebAPI{
		m:       m,
		kcpAddr: kcpAddr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		tpl: template.Must(template.New("index").Parse(index)),
	}
}

// Handler 路由
func (h *WebAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.index)
	mux.HandleFunc("/create", h.createRoom)
	mux.HandleFunc("/status", h.status)
	mux.HandleFunc("/ws", h.feed)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	return mux
}

// ListenAndServe 后台监听
func (h *WebAPI) ListenAndServe(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h.Handler()}
	go func() {
		l4g.Info("[api] web api listen on %s", addr)
		if err := srv.ListenAndServe(); nil != err && err != http.ErrServerClosed {
			l4g.Error("[api] listen error:%v", err)
		}
	}()
	return srv
}

type roomView struct {
	ID      uint64
	Seats   int
	Online  int
	Started bool
	Over    bool
	Frame   int32
}

func (h *WebAPI) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := struct {
		Addr  string
		Rooms []roomView
	}{Addr: h.kcpAddr}
	for _, v := range h.m.Rooms() {
		data.Rooms = append(data.Rooms, roomView{
			ID:      v.ID(),
			Seats:   v.Seats(),
			Online:  v.OnlineCount(),
			Started: v.IsStarted(),
			Over:    v.IsOver(),
			Frame:   int32(v.Stats().CurrentFrame),
		})
	}

	if err := h.tpl.Execute(w, data); nil != err {
		l4g.Error("[api] index error:%v", err)
	}
}

func (h *WebAPI) createRoom(w http.ResponseWriter, r *http.Request) {

	ret := "error"

	defer func() {
		w.Write([]byte(ret))
	}()

	query := r.URL.Query()

	roomID, _ := strconv.ParseUint(query.Get("room"), 10, 64)
	seats, _ := strconv.Atoi(query.Get("seats"))

	rm, err := h.m.CreateRoom(roomID, seats)
	if nil != err {
		w.WriteHeader(http.StatusBadRequest)
		ret = err.Error()
	} else {
		ret = fmt.Sprintf("room.ID=[%d] room.Seats=[%d] room.Time=[%d]", rm.ID(), rm.Seats(), rm.TimeStamp())
	}

}

func (h *WebAPI) status(w http.ResponseWriter, r *http.Request) {
	rooms := make([]interface{}, 0)
	for _, v := range h.m.Rooms() {
		st := v.Stats()
		rooms = append(rooms, map[string]interface{}{
			"id":                 int64(v.ID()),
			"seats":              v.Seats(),
			"online":             v.OnlineCount(),
			"started":            v.IsStarted(),
			"over":               v.IsOver(),
			"current_frame":      int64(st.CurrentFrame),
			"validated_frame":    int64(st.ValidatedFrame),
			"rollbacks":          int64(st.Rollbacks),
			"resimulated_frames": int64(st.ResimulatedFrames),
		})
	}

	s, err := structpb.NewStruct(map[string]interface{}{
		"addr":  h.kcpAddr,
		"rooms": rooms,
	})
	if nil != err {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	b, err := protojson.Marshal(s)
	if nil != err {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// feed 推送房间快照, one msgpack FeedFrame per FeedPeriod until the room ends
func (h *WebAPI) feed(w http.ResponseWriter, r *http.Request) {
	roomID, _ := strconv.ParseUint(r.URL.Query().Get("room"), 10, 64)
	rm := h.m.GetRoom(roomID)
	if nil == rm {
		http.Error(w, fmt.Sprintf("no room %d", roomID), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if nil != err {
		l4g.Warn("[api] upgrade error:%v", err)
		return
	}
	defer conn.Close()

	// 读端只处理close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); nil != err {
				return
			}
		}
	}()

	ticker := time.NewTicker(FeedPeriod)
	defer ticker.Stop()

	lastFrame := int32(-1)
	for {
		if frame := snapshotFrame(rm); frame.Frame != lastFrame {
			lastFrame = frame.Frame
			b, err := msgpack.Marshal(frame)
			if nil != err {
				l4g.Error("[api] feed encode error:%v", err)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, b); nil != err {
				return
			}
		}
		if rm.IsOver() {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room over"))
			return
		}

		select {
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func snapshotFrame(rm *room.Room) *FeedFrame {
	w := rm.Snapshot()
	f := &FeedFrame{
		Room:      rm.ID(),
		Frame:     int32(w.Frame),
		Validated: int32(rm.Stats().ValidatedFrame),
	}
	for i := range w.Ships {
		f.Ships = append(f.Ships, feedShip(uint8(i), &w.Ships[i]))
	}
	for _, b := range w.Bullets {
		f.Bullets = append(f.Bullets, FeedBullet{Owner: uint8(b.Owner), X: b.Position.X(), Y: b.Position.Y()})
	}
	return f
}

func feedShip(seat uint8, s *asteroid.Ship) FeedShip {
	return FeedShip{
		Seat:     seat,
		Active:   s.Active,
		X:        s.State.Position.X(),
		Y:        s.State.Position.Y(),
		VX:       s.State.Velocity.X(),
		VY:       s.State.Velocity.Y(),
		Rotation: s.State.Rotation,
	}
}

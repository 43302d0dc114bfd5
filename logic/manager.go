package logic

import (
	"fmt"
	"sort"
	"sync"

	"github.com/byebyebruce/rollbackserver/logic/game"
	"github.com/byebyebruce/rollbackserver/logic/room"
	"github.com/byebyebruce/rollbackserver/pkg/sim"
)

// RoomManager 房间管理器
type RoomManager struct {
	room      map[uint64]*room.Room
	wg        sync.WaitGroup
	rw        sync.RWMutex
	cfg       game.Config
	replayDir string
	maxRoom   int
	nextID    uint64
}

// NewRoomManager 构造, maxRoom <= 0 means unlimited
func NewRoomManager(cfg game.Config, replayDir string, maxRoom int) *RoomManager {
	m := &RoomManager{
		room:      make(map[uint64]*room.Room),
		cfg:       cfg,
		replayDir: replayDir,
		maxRoom:   maxRoom,
	}
	return m
}

// CreateRoom 创建房间, id 0 picks the next free id
func (m *RoomManager) CreateRoom(id uint64, seats int) (*room.Room, error) {
	m.rw.Lock()
	defer m.rw.Unlock()

	return m.createRoom(id, seats)
}

func (m *RoomManager) createRoom(id uint64, seats int) (*room.Room, error) {
	if m.maxRoom > 0 && len(m.room) >= m.maxRoom {
		return nil, fmt.Errorf("room limit %d reached", m.maxRoom)
	}

	if 0 == id {
		for {
			m.nextID++
			if _, ok := m.room[m.nextID]; !ok {
				break
			}
		}
		id = m.nextID
	}

	r, ok := m.room[id]
	if ok {
		return nil, fmt.Errorf("room id[%d] exists", id)
	}

	cfg := m.cfg
	if seats > 0 {
		cfg.Seats = seats
	}
	if err := cfg.Validate(); nil != err {
		return nil, err
	}

	r = room.NewRoom(id, cfg, m.replayDir)
	m.room[id] = r

	m.wg.Add(1)
	go func() {
		defer func() {
			m.rw.Lock()
			delete(m.room, id)
			m.rw.Unlock()

			m.wg.Done()
		}()
		r.Run()

	}()

	return r, nil
}

// Assign 为Join分配房间: the room the client already sits in, else the
// oldest room still filling, else a new one.
func (m *RoomManager) Assign(id sim.ClientID) (*room.Room, error) {
	m.rw.Lock()
	defer m.rw.Unlock()

	rooms := m.sorted()
	for _, r := range rooms {
		if !r.IsOver() && r.HasPlayer(id) {
			return r, nil
		}
	}
	for _, r := range rooms {
		if r.Reserve() {
			return r, nil
		}
	}

	r, err := m.createRoom(0, 0)
	if nil != err {
		return nil, err
	}
	if !r.Reserve() {
		return nil, fmt.Errorf("room id[%d] not joinable", r.ID())
	}
	return r, nil
}

// GetRoom 获得房间
func (m *RoomManager) GetRoom(id uint64) *room.Room {

	m.rw.RLock()
	defer m.rw.RUnlock()

	return m.room[id]
}

// Rooms 所有房间, ordered by id
func (m *RoomManager) Rooms() []*room.Room {
	m.rw.RLock()
	defer m.rw.RUnlock()

	return m.sorted()
}

func (m *RoomManager) sorted() []*room.Room {
	ret := make([]*room.Room, 0, len(m.room))
	for _, v := range m.room {
		ret = append(ret, v)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

// RoomNum 获得房间数量
func (m *RoomManager) RoomNum() int {

	m.rw.RLock()
	defer m.rw.RUnlock()

	return len(m.room)
}

// Stop 停止
func (m *RoomManager) Stop() {

	m.rw.RLock()
	rooms := m.sorted()
	m.rw.RUnlock()

	for _, v := range rooms {
		v.Stop()
	}

	m.wg.Wait()
}

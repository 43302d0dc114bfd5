package server

import (
	"net"

	"github.com/byebyebruce/rollbackserver/config"
	"github.com/byebyebruce/rollbackserver/logic"
	"github.com/byebyebruce/rollbackserver/pkg/kcp_server"
	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/packet/pb_packet"
)

// RollbackServer 回滚同步服务器
type RollbackServer struct {
	roomMgr   *logic.RoomManager
	udpServer *network.Server
	totalConn int64
}

// New 构造
func New(cfg *config.Config) (*RollbackServer, error) {
	s := &RollbackServer{
		roomMgr: logic.NewRoomManager(cfg.Game(), cfg.ReplayDir, cfg.MaxRoom),
	}

	mode := &kcp_server.FastMode
	if !cfg.FastMode {
		mode = &kcp_server.NormalMode
	}
	networkServer, err := kcp_server.ListenAndServe(cfg.OutAddress, s, &pb_packet.MsgProtocol{}, kcp_server.DefaultConfig(), mode)
	if err != nil {
		return nil, err
	}
	s.udpServer = networkServer
	return s, nil
}

// RoomManager 获取房间管理器
func (r *RollbackServer) RoomManager() *logic.RoomManager {
	return r.roomMgr
}

// Addr 实际监听地址
func (r *RollbackServer) Addr() net.Addr {
	return r.udpServer.Addr()
}

// Stop 停止服务
func (r *RollbackServer) Stop() {
	r.roomMgr.Stop()
	r.udpServer.Stop()
}

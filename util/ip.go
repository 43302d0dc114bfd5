package util

import (
	"net"
)

// GetLocalIP 获得内网IP
func GetLocalIP() string {
	addrs, err := net.InterfaceAddrs()

	if err != nil {
		return ""
	}

	for _, address := range addrs {

		// 检查ip地址判断是否回环地址
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}

		}
	}
	return ""
}

// AdvertiseAddr 把":10086"这种监听地址补成客户端能连的地址
func AdvertiseAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if nil != err {
		return listen
	}
	if len(host) != 0 && host != "0.0.0.0" && host != "::" {
		return listen
	}
	host = GetLocalIP()
	if len(host) == 0 {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

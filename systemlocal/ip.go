// Copyright 2019 RetailNext, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package systemlocal

import (
	"net"
	"os"
)

// ClientAddress is where clients, and so this tool, reach the daemon.
func (r Raw) ClientAddress() string {
	for _, candidate := range []string{r.BroadcastRPCAddress, r.BroadcastAddress, r.RPCAddress} {
		if candidate != "" && candidate != "0.0.0.0" {
			return candidate
		}
	}
	if r.RPCInterface != "" {
		if i, err := net.InterfaceByName(r.RPCInterface); err == nil {
			if addrs, err := i.Addrs(); err == nil {
				if ip := pickIP(addrs); ip != "" {
					return ip
				}
			}
		}
	}
	name, _ := os.Hostname()
	if addr, _ := net.ResolveIPAddr("ip", name); addr != nil && len(addr.IP) > 0 && !addr.IP.IsUnspecified() {
		return addr.IP.String()
	}
	addrs, _ := net.InterfaceAddrs()
	if ip := pickIP(addrs); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// pickIP prefers global IPv4, then global IPv6.
func pickIP(addrs []net.Addr) string {
	var v6 string
	for _, a := range addrs {
		addr, ok := a.(*net.IPNet)
		if !ok || !addr.IP.IsGlobalUnicast() {
			continue
		}
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String()
		}
		if v6 == "" {
			v6 = addr.IP.String()
		}
	}
	return v6
}

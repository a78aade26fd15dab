package proxyarp

import (
	log "github.com/sirupsen/logrus"

	"l2-controller/internal/decision"
	"l2-controller/internal/frame"
	"l2-controller/internal/table"
	"l2-controller/pkg/types"
)

// Engine is a proxy ARP responder. It caches every sender binding it sees and answers
// requests from the cache, flooding to edge ports on a miss.
type Engine struct {
	cache *table.ArpCache
}

// NewEngine creates a proxy ARP engine over cache.
func NewEngine(cache *table.ArpCache) *Engine {
	return &Engine{cache: cache}
}

// Cache returns the engine's ARP cache.
func (e *Engine) Cache() *table.ArpCache {
	return e.cache
}

// Process handles one ARP frame received on (device, inPort).
// Replies only update the cache; they are not forwarded to the requester.
func (e *Engine) Process(device types.DeviceID, inPort types.PortID, edgePorts []types.ConnectPoint, v *frame.View) decision.Decision {
	if v.ARP == nil {
		return decision.NewIgnore("not an ARP frame")
	}
	arp := v.ARP

	if _, learned := e.cache.Learn(arp.SenderIP, arp.SenderMAC); learned {
		log.WithFields(log.Fields{
			"ip":  arp.SenderIP,
			"mac": arp.SenderMAC,
		}).Info("Cached ARP binding")
	}

	switch {
	case arp.IsRequest():
		return e.answer(types.ConnectPoint{Device: device, Port: inPort}, edgePorts, arp)
	case arp.IsReply():
		log.WithFields(log.Fields{
			"ip":  arp.SenderIP,
			"mac": arp.SenderMAC,
		}).Debug("Received ARP reply, cache only")
		return decision.NewIgnore("arp reply")
	default:
		return decision.NewIgnore("unsupported arp operation")
	}
}

func (e *Engine) answer(ingress types.ConnectPoint, edgePorts []types.ConnectPoint, arp *frame.ARPMessage) decision.Decision {
	mac, ok := e.cache.Lookup(arp.TargetIP)
	if ok {
		log.WithFields(log.Fields{
			"target_ip": arp.TargetIP,
			"mac":       mac,
		}).Info("ARP table hit, replying")
		return decision.NewArpReply(arp.TargetIP, mac)
	}

	targets := make([]types.ConnectPoint, 0, len(edgePorts))
	for _, cp := range edgePorts {
		if cp == ingress {
			continue
		}
		targets = append(targets, cp)
	}

	log.WithFields(log.Fields{
		"target_ip": arp.TargetIP,
		"ingress":   ingress,
		"targets":   len(targets),
	}).Info("ARP table miss, sending request to edge ports")
	return decision.NewFloodArpRequest(ingress, targets)
}

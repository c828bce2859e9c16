package session

import (
	"github.com/pathfinderd/pathfinder/internal/connection"
	"github.com/pathfinderd/pathfinder/internal/domain"
	"github.com/pathfinderd/pathfinder/internal/filter"
	"github.com/pathfinderd/pathfinder/internal/logger"
	"github.com/pathfinderd/pathfinder/internal/proto"
)

func (s *Session) handleSubscribe(m *proto.Message) {
	subID, _ := m.Int("subscription-id")
	filterStr, hasFilter := m.String("filter")

	var f filter.Filter
	if hasFilter {
		var err error
		f, err = filter.Parse(filterStr)
		if err != nil {
			logger.WarnF("%sReceived subscription request with malformed filter: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailInvalidFilterSyntax)
			return
		}
	}

	_, err := s.dom.CreateSubscription(s.clientID, subID, f)
	if err != nil {
		switch err.(type) {
		case *domain.AlreadyExistsError:
			logger.WarnF("%sReceived invalid subscription request: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailSubscriptionIDExists)
		case *domain.ResourceError:
			logger.WarnF("%sResource error processing subscription request 0x%x: %v.", s.logPrefix(), subID, err)
			s.fail(m, proto.FailInsufficientResources)
		default:
			logger.WarnF("%sUnable to create subscription: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailPermissionDenied)
		}
		return
	}

	s.mu.Lock()
	s.subTAs[subID] = m.TaID
	s.mu.Unlock()

	logger.DebugF("%sAssigned subscription id %d to new subscription.", s.logPrefix(), subID)
	s.accept(m, nil)

	// Subscription creation and activation are separate calls so the match
	// callback can never fire before the client has the subscription id.
	if err := s.dom.ActivateSubscription(s.clientID, subID); err != nil {
		logger.WarnF("%sFailed to activate subscription %d: %v.", s.logPrefix(), subID, err)
	}
}

func (s *Session) handleUnsubscribe(m *proto.Message) {
	subID, _ := m.Int("subscription-id")

	if err := s.dom.Unsubscribe(s.clientID, subID); err != nil {
		switch err.(type) {
		case *domain.PermissionError:
			logger.WarnF("%sPermission error while unsubscribing 0x%x: %v.", s.logPrefix(), subID, err)
			s.fail(m, proto.FailPermissionDenied)
		case *domain.NotFoundError:
			logger.WarnF("%sAttempted to unsubscribe non-existent subscription %d.", s.logPrefix(), subID)
			s.fail(m, proto.FailNonExistentSubscriptionID)
		default:
			s.fail(m, proto.FailPermissionDenied)
		}
		return
	}

	s.mu.Lock()
	subTaID, ok := s.subTAs[subID]
	delete(s.subTAs, subID)
	s.mu.Unlock()

	if ok {
		s.respond(&proto.Message{Cmd: proto.CmdSubscribe, TaID: subTaID, MsgType: proto.MsgComplete})
	}
	s.complete(m, nil)
	logger.DebugF("%sCanceled subscription %d.", s.logPrefix(), subID)
}

func (s *Session) handleSubscriptions(m *proto.Message) {
	s.accept(m, nil)
	for _, sub := range s.dom.GetSubscriptions() {
		body := map[string]any{"subscription-id": sub.SubID, "client-id": sub.ClientID}
		if sub.Filter != nil {
			body["filter"] = sub.Filter.String()
		}
		s.respond(&proto.Message{Cmd: proto.CmdSubscriptions, TaID: m.TaID, MsgType: proto.MsgNotify, Body: body})
	}
	s.complete(m, nil)
}

func (s *Session) handleServices(m *proto.Message) {
	filterStr, hasFilter := m.String("filter")
	var f filter.Filter
	if hasFilter {
		var err error
		f, err = filter.Parse(filterStr)
		if err != nil {
			logger.InfoF("%sReceived list services request with malformed filter: %v.", s.logPrefix(), err)
			s.fail(m, proto.FailInvalidFilterSyntax)
			return
		}
	}

	s.accept(m, nil)
	for _, svc := range s.dom.GetServices() {
		if f != nil && !f.Match(svc.Props()) {
			continue
		}
		body := map[string]any{
			"service-id": svc.ServiceID, "generation": svc.Generation(),
			"service-props": svc.Props(), "ttl": svc.TTL(), "client-id": svc.ClientID(),
		}
		if since, ok := svc.OrphanSince(); ok {
			body["orphan-since"] = since
		}
		s.respond(&proto.Message{Cmd: proto.CmdServices, TaID: m.TaID, MsgType: proto.MsgNotify, Body: body})
	}
	s.complete(m, nil)
}

func (s *Session) handlePublish(m *proto.Message) {
	serviceID, _ := m.Int("service-id")
	generation, _ := m.Int("generation")
	p, _ := m.Props("service-props")
	ttl, _ := m.Int("ttl")

	svc, err := s.dom.Publish(s.clientID, serviceID, generation, p, ttl)
	if err != nil {
		switch err.(type) {
		case *domain.PermissionError:
			logger.WarnF("%sPermission error while publishing service 0x%x: %v.", s.logPrefix(), serviceID, err)
			s.fail(m, proto.FailPermissionDenied)
		case *domain.ResourceError:
			logger.WarnF("%sResource error while publishing service 0x%x: %v.", s.logPrefix(), serviceID, err)
			s.fail(m, proto.FailInsufficientResources)
		case *domain.GenerationError:
			logger.WarnF("%sError while re-publishing service 0x%x: %v.", s.logPrefix(), serviceID, err)
			s.fail(m, proto.FailOldGeneration)
		case *domain.SameGenerationButDifferentError:
			logger.WarnF("%sError while re-publishing service 0x%x: %v.", s.logPrefix(), serviceID, err)
			s.fail(m, proto.FailSameGenerationButDifferent)
		default:
			s.fail(m, proto.FailPermissionDenied)
		}
		return
	}

	if !svc.HasPrevGeneration() {
		logger.DebugF("%sPublished new service with id 0x%x, generation %d and TTL %d s.",
			s.logPrefix(), serviceID, generation, ttl)
	} else {
		logger.DebugF("%sRe-published service with id 0x%x, generation %d.", s.logPrefix(), serviceID, generation)
	}
	s.complete(m, nil)
}

func (s *Session) handleUnpublish(m *proto.Message) {
	serviceID, _ := m.Int("service-id")

	if err := s.dom.Unpublish(s.clientID, serviceID); err != nil {
		switch err.(type) {
		case *domain.PermissionError:
			logger.WarnF("%sPermission error while unpublishing service 0x%x: %v.", s.logPrefix(), serviceID, err)
			s.fail(m, proto.FailPermissionDenied)
		case *domain.NotFoundError:
			logger.WarnF("%sAttempted to unpublish non-existent service 0x%x.", s.logPrefix(), serviceID)
			s.fail(m, proto.FailNonExistentServiceID)
		default:
			s.fail(m, proto.FailPermissionDenied)
		}
		return
	}

	logger.DebugF("%sUnpublished service id 0x%x.", s.logPrefix(), serviceID)
	s.complete(m, nil)
}

func (s *Session) handlePing(m *proto.Message) {
	s.complete(m, nil)
}

func (s *Session) handleClients(m *proto.Message) {
	s.accept(m, nil)

	extended := s.protoVersion >= 3

	s.registry.Range(func(p connection.Peer) bool {
		body := map[string]any{
			"client-id":      p.ClientID(),
			"client-address": p.RemoteAddr(),
			"time":           p.ConnectedAt(),
		}
		if extended {
			if sp, ok := p.(*Session); ok {
				body["idle"] = sp.idleSeconds()
			}
			body["protocol-version"] = int64(p.ProtoVersion())
			if latency, ok := p.TrackLatency(); ok {
				body["latency"] = latency
			}
		}
		s.respond(&proto.Message{Cmd: proto.CmdClients, TaID: m.TaID, MsgType: proto.MsgNotify, Body: body})
		return true
	})

	s.complete(m, nil)
}

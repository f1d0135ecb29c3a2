/*
 *
 * bidibridge - a WebDriver BiDi to Chrome DevTools Protocol bridge
 * Copyright (C) 2024 The bidibridge Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"sync"
)

// Ensure BaseEventEmitter implements the EventEmitter interface.
var _ EventEmitter = &BaseEventEmitter{}

// Event as emitted by an EventEmitter.
type Event struct {
	typ  string
	data any
}

// EventEmitter that all event emitters need to implement.
type EventEmitter interface {
	emit(event string, data any)
	on(ctx context.Context, events []string, ch chan Event)
	onAll(ctx context.Context, ch chan Event)
}

type eventHandler struct {
	ctx   context.Context
	ch    chan Event
	queue *eventQueue
}

// eventQueue buffers events for a single handler so that delivery to the
// handler channel never blocks the emitter and stays in emit order.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	kick   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{kick: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

// drain forwards queued events to the handler channel, in order, until
// either context is canceled.
func (h eventHandler) drain(emitterCtx context.Context) {
	for {
		select {
		case <-emitterCtx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-h.queue.kick:
			for {
				e, ok := h.queue.pop()
				if !ok {
					break
				}
				select {
				case <-emitterCtx.Done():
					return
				case <-h.ctx.Done():
					return
				case h.ch <- e:
				}
			}
		}
	}
}

// BaseEventEmitter emits events to registered handlers.
type BaseEventEmitter struct {
	handlers    map[string][]eventHandler
	handlersAll []eventHandler

	handlersCh chan func() chan struct{}
	ctx        context.Context
}

// NewBaseEventEmitter creates a new instance of a base event emitter.
func NewBaseEventEmitter(ctx context.Context) BaseEventEmitter {
	bem := BaseEventEmitter{
		handlers:    make(map[string][]eventHandler),
		handlersAll: make([]eventHandler, 0),
		handlersCh:  make(chan func() chan struct{}),
		ctx:         ctx,
	}
	go bem.handleHandlers(ctx)
	return bem
}

// handleHandlers processes one request at a time for synchronization.
func (e *BaseEventEmitter) handleHandlers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.handlersCh:
			// Once accepted, fn must run and signal its caller even if
			// ctx was cancelled in between, or the caller blocks forever.
			done := fn()
			done <- struct{}{}
		}
	}
}

// sync is a helper for synchronized access to the BaseEventEmitter.
func (e *BaseEventEmitter) sync(fn func()) {
	done := make(chan struct{})
	select {
	case <-e.ctx.Done():
		return
	case e.handlersCh <- func() chan struct{} {
		fn()
		return done
	}:
	}
	<-done
}

func (e *BaseEventEmitter) emit(event string, data any) {
	e.sync(func() {
		emitTo := func(handlers []eventHandler) (updated []eventHandler) {
			for i := 0; i < len(handlers); {
				handler := handlers[i]
				select {
				case <-handler.ctx.Done():
					handlers = append(handlers[:i], handlers[i+1:]...)
					continue
				default:
					handler.queue.push(Event{event, data})
					i++
				}
			}
			return handlers
		}
		e.handlers[event] = emitTo(e.handlers[event])
		e.handlersAll = emitTo(e.handlersAll)
	})
}

// on registers a handler for specific events.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, ch chan Event) {
	e.sync(func() {
		q := newEventQueue()
		eh := eventHandler{ctx, ch, q}
		go eh.drain(e.ctx)
		for _, event := range events {
			e.handlers[event] = append(e.handlers[event], eh)
		}
	})
}

// onAll registers a handler for all events.
func (e *BaseEventEmitter) onAll(ctx context.Context, ch chan Event) {
	e.sync(func() {
		eh := eventHandler{ctx, ch, newEventQueue()}
		go eh.drain(e.ctx)
		e.handlersAll = append(e.handlersAll, eh)
	})
}

package stream

import (
	"sync"
	"time"
)

// queueItem - кадр или смена состояния, ожидающие обработки
type queueItem struct {
	frame    Frame
	state    State
	isState  bool
	received time.Time
	enqueued time.Time
}

// dispatcher - неограниченная FIFO очередь и одна горутина обработки.
// Приём кадров никогда не ждёт обработчиков: push только добавляет в очередь.
type dispatcher struct {
	handle func(queueItem)

	mu      sync.Mutex
	queue   []queueItem
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newDispatcher(handle func(queueItem)) *dispatcher {
	d := &dispatcher{
		handle: handle,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// push добавляет элемент в очередь; false после stop
func (d *dispatcher) push(item queueItem) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, item)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) pop() (queueItem, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return queueItem{}, false
	}
	item := d.queue[0]
	d.queue[0] = queueItem{}
	d.queue = d.queue[1:]
	return item, true
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		item, ok := d.pop()
		if !ok {
			select {
			case <-d.wake:
				continue
			case <-d.quit:
				return
			}
		}

		select {
		case <-d.quit:
			return
		default:
		}

		d.handle(item)
	}
}

// len - размер очереди
func (d *dispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// stop отбрасывает необработанные элементы и ждёт завершения горутины.
// Нельзя вызывать из обработчика.
func (d *dispatcher) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()

	close(d.quit)
	<-d.done
}

package stream

// Frame - кадр, принятый транспортом.
// Type пустой для кадров без типа (доставляются как "message").
type Frame struct {
	ID   string
	Type string
	Data []byte
}

// OpenOptions - параметры открытия соединения
type OpenOptions struct {
	// Token - bearer токен сессии; пустой для анонимного подключения
	Token string
	// LastEventID - id последнего принятого кадра, для докачки пропущенных
	LastEventID string
}

// Sink получает события одного соединения.
// Методы могут вызываться из любой горутины, в том числе синхронно внутри Open.
// После OnError транспорт больше не вызывает Sink.
type Sink interface {
	OnOpen()
	OnFrame(f Frame)
	OnError(err error)
}

// Conn - открытое соединение.
// Close идемпотентен и безопасен при вызове из колбэков Sink.
type Conn interface {
	Close() error
}

// Transport открывает соединение со стримом.
// Open может вернуть ошибку сразу (например, неверный URL) или
// сообщить о ней позже через Sink.OnError.
type Transport interface {
	Open(url string, opts OpenOptions, sink Sink) (Conn, error)
}

// TokenProvider возвращает текущий токен сессии или пустую строку
type TokenProvider func() string

// Package protocol определяет типизированный бинарный протокол RPC
// между сервером мира и клиентами.
//
// Кадр на проводе: u32-длина, затем полезная нагрузка:
//
//	type       u16 — тип сообщения
//	flags      u8  — бит 0: ответ
//	request_id u32 — корреляция запрос/ответ
//	body       …   — тело сообщения (little-endian, строки с u32-префиксом длины)
//
// Координаты блоков — i64, чанков — i32, точные позиции — f64.
// Тип блока на проводе — u32, хотя доменное значение — u8.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MsgType определяет тип сообщения протокола.
type MsgType uint16

// Типы сообщений. Запрос и ответ одной операции имеют один тип;
// направление различается флагом FlagResponse.
const (
	MsgUnknown              MsgType = 0
	MsgPing                 MsgType = 1
	MsgGetServerInfo        MsgType = 2
	MsgConnectPlayer        MsgType = 3
	MsgRefreshSession       MsgType = 4
	MsgUpdatePlayerPosition MsgType = 5
	MsgDisconnectPlayer     MsgType = 6
	MsgGetChunk             MsgType = 7
	MsgGetUpdatedChunks     MsgType = 8
	MsgPlaceBlock           MsgType = 9
	MsgBreakBlock           MsgType = 10
	MsgGetBlockAt           MsgType = 11
)

// String возвращает имя операции для логов и метрик.
func (t MsgType) String() string {
	switch t {
	case MsgPing:
		return "Ping"
	case MsgGetServerInfo:
		return "GetServerInfo"
	case MsgConnectPlayer:
		return "ConnectPlayer"
	case MsgRefreshSession:
		return "RefreshSession"
	case MsgUpdatePlayerPosition:
		return "UpdatePlayerPosition"
	case MsgDisconnectPlayer:
		return "DisconnectPlayer"
	case MsgGetChunk:
		return "GetChunk"
	case MsgGetUpdatedChunks:
		return "GetUpdatedChunks"
	case MsgPlaceBlock:
		return "PlaceBlock"
	case MsgBreakBlock:
		return "BreakBlock"
	case MsgGetBlockAt:
		return "GetBlockAt"
	default:
		return "Unknown"
	}
}

// Флаги сообщения.
const (
	// FlagResponse помечает сообщение как ответ.
	FlagResponse uint8 = 1 << 0
)

const headerSize = 2 + 1 + 4

// MaxMessageSize ограничивает размер полезной нагрузки кадра.
const MaxMessageSize = 4 * 1024 * 1024

// ErrMessageMalformed возвращается при нарушении формата сообщения.
var ErrMessageMalformed = errors.New("повреждённое сообщение протокола")

// Message представляет один кадр протокола.
type Message struct {
	Type      MsgType
	Flags     uint8
	RequestID uint32
	Body      []byte
}

// IsResponse возвращает true для сообщений-ответов.
func (m *Message) IsResponse() bool {
	return m.Flags&FlagResponse != 0
}

// Body описывает тело сообщения, умеющее себя кодировать.
type Body interface {
	encodeBody(w *Writer)
	decodeBody(r *Reader)
}

// MarshalMessage собирает кадр из типа, идентификатора запроса и тела.
func MarshalMessage(t MsgType, requestID uint32, flags uint8, body Body) *Message {
	w := NewWriter()
	if body != nil {
		body.encodeBody(w)
	}
	return &Message{Type: t, Flags: flags, RequestID: requestID, Body: w.Bytes()}
}

// DecodeBody разбирает тело сообщения в указанную структуру.
func (m *Message) DecodeBody(body Body) error {
	r := NewReader(m.Body)
	body.decodeBody(r)
	if err := r.Err(); err != nil {
		return fmt.Errorf("тело %s: %w", m.Type, err)
	}
	if !r.Empty() {
		return fmt.Errorf("тело %s: %w: лишние байты", m.Type, ErrMessageMalformed)
	}
	return nil
}

// EncodeFrame сериализует сообщение в полезную нагрузку кадра
// (без префикса длины — его добавляет транспортный канал).
func EncodeFrame(m *Message) []byte {
	data := make([]byte, headerSize+len(m.Body))
	binary.LittleEndian.PutUint16(data[0:2], uint16(m.Type))
	data[2] = m.Flags
	binary.LittleEndian.PutUint32(data[3:7], m.RequestID)
	copy(data[headerSize:], m.Body)
	return data
}

// DecodeFrame разбирает полезную нагрузку кадра в сообщение.
func DecodeFrame(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: кадр короче заголовка", ErrMessageMalformed)
	}
	return &Message{
		Type:      MsgType(binary.LittleEndian.Uint16(data[0:2])),
		Flags:     data[2],
		RequestID: binary.LittleEndian.Uint32(data[3:7]),
		Body:      data[headerSize:],
	}, nil
}

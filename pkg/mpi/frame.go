package mpi

import (
	"encoding/binary"
	"io"
	"net"
)

// frame is one length-prefixed, tagged unit of payload on a channel. When
// Tag == BarrierTag, Payload is always empty and never traverses the wire.
type frame struct {
	Tag     int32
	Payload []byte
}

// headerSize is the size in bytes of the packed (length uint64, tag int32)
// frame header. The byte order is fixed big-endian so the wire format does
// not depend on the platform's native packing, unlike the reference
// implementation this protocol is modeled on.
const headerSize = 8 + 4

// maxRecvChunk bounds how much is read into the payload buffer per
// recv_into-equivalent call, matching the chunked-read behavior required of
// a reimplementation.
const maxRecvChunk = 64 * 1024

// recvN reads exactly n bytes from conn, in chunks of at most maxRecvChunk,
// returning ErrSocketClosed if the peer closes mid-read (including before
// the very first byte).
func recvN(conn net.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		chunk := n - read
		if chunk > maxRecvChunk {
			chunk = maxRecvChunk
		}
		m, err := conn.Read(buf[read : read+chunk])
		if m == 0 {
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, ErrSocketClosed
		}
		read += m
		if err != nil && err != io.EOF {
			return nil, err
		}
	}
	return buf, nil
}

// sendAll writes all of buf to conn, retrying on short writes.
func sendAll(conn net.Conn, buf []byte) error {
	for len(buf) > 0 {
		n, err := conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// sendFrame writes one frame to conn. A BarrierTag frame is header-only.
func sendFrame(conn net.Conn, tag int32, payload []byte) error {
	if tag == BarrierTag {
		var hdr [headerSize]byte
		binary.BigEndian.PutUint64(hdr[0:8], 0)
		binary.BigEndian.PutUint32(hdr[8:12], uint32(tag))
		return sendAll(conn, hdr[:])
	}

	var hdr [headerSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(len(payload)))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(tag))
	if err := sendAll(conn, hdr[:]); err != nil {
		return err
	}
	return sendAll(conn, payload)
}

// recvFrame reads one frame from conn.
func recvFrame(conn net.Conn) (frame, error) {
	hdr, err := recvN(conn, headerSize)
	if err != nil {
		return frame{}, err
	}
	length := binary.BigEndian.Uint64(hdr[0:8])
	tag := int32(binary.BigEndian.Uint32(hdr[8:12]))

	if tag == BarrierTag {
		return frame{Tag: tag}, nil
	}

	payload, err := recvN(conn, int(length))
	if err != nil {
		return frame{}, err
	}
	return frame{Tag: tag, Payload: payload}, nil
}

package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/offheapio/offheap/pkg/offheap"
)

const (
	maxKeyLength = 250         // memcached max key size
	maxValueSize = 1024 * 1024 // memcached default max item size
)

func (s *Server) handleText(conn net.Conn) {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriterSize(conn, 65536)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}

		switch strings.ToUpper(parts[0]) {
		case "SET":
			s.handleTextStorage(reader, writer, parts, false)
		case "ADD":
			s.handleTextStorage(reader, writer, parts, true)
		case "GET":
			s.handleTextGet(writer, parts)
		case "GETS":
			s.handleTextGet(writer, parts)
		case "DELETE":
			s.handleTextDelete(writer, parts)
		case "STATS":
			s.handleTextStats(writer)
		case "VERSION":
			writer.WriteString("VERSION 1.0.0\r\n")
		case "QUIT":
			writer.Flush()
			return
		default:
			writer.WriteString("ERROR\r\n")
		}

		// Flush once per command (batched writes)
		if reader.Buffered() == 0 {
			writer.Flush()
		}
	}
}

// handleTextStorage handles set and add. Flags and exptime are accepted
// for client compatibility but not stored; entries never expire.
func (s *Server) handleTextStorage(reader *bufio.Reader, writer *bufio.Writer, parts []string, ifAbsent bool) {
	if len(parts) < 5 {
		writer.WriteString("CLIENT_ERROR bad command line format\r\n")
		return
	}

	key := parts[1]
	if len(key) > maxKeyLength {
		writer.WriteString("CLIENT_ERROR key too long\r\n")
		return
	}
	if _, err := strconv.ParseUint(parts[2], 10, 32); err != nil {
		writer.WriteString("CLIENT_ERROR bad command line format\r\n")
		return
	}
	if _, err := strconv.ParseInt(parts[3], 10, 64); err != nil {
		writer.WriteString("CLIENT_ERROR bad command line format\r\n")
		return
	}
	bytes, err := strconv.Atoi(parts[4])
	if err != nil {
		writer.WriteString("CLIENT_ERROR bad command line format\r\n")
		return
	}
	if bytes > maxValueSize {
		// Still need to read and discard the data
		io.CopyN(io.Discard, reader, int64(bytes)+2)
		writer.WriteString("SERVER_ERROR object too large for cache\r\n")
		return
	}
	noreply := len(parts) > 5 && parts[5] == "noreply"

	value := make([]byte, bytes)
	if _, err := io.ReadFull(reader, value); err != nil {
		writer.WriteString("SERVER_ERROR read error\r\n")
		return
	}
	c, _ := reader.ReadByte()
	if c == '\r' {
		reader.ReadByte()
	}

	if ifAbsent {
		exists, err := s.m.Contains(key)
		if err != nil {
			writer.WriteString("SERVER_ERROR " + err.Error() + "\r\n")
			return
		}
		if exists {
			if !noreply {
				writer.WriteString("NOT_STORED\r\n")
			}
			return
		}
	}

	if _, err := s.m.Put(key, string(value)); err != nil {
		writer.WriteString("SERVER_ERROR " + err.Error() + "\r\n")
		return
	}
	if !noreply {
		writer.WriteString("STORED\r\n")
	}
}

func (s *Server) handleTextGet(writer *bufio.Writer, parts []string) {
	if len(parts) < 2 {
		writer.WriteString("ERROR\r\n")
		return
	}

	for _, key := range parts[1:] {
		val, err := s.m.Get(key)
		if errors.Is(err, offheap.ErrKeyNotFound) {
			continue // absent keys are simply skipped
		}
		if err != nil {
			writer.WriteString("SERVER_ERROR " + err.Error() + "\r\n")
			return
		}
		value := valueBytes(val)
		writer.WriteString("VALUE ")
		writer.WriteString(key)
		writer.WriteString(" 0 ")
		writer.WriteString(strconv.Itoa(len(value)))
		writer.WriteString("\r\n")
		writer.Write(value)
		writer.WriteString("\r\n")
	}
	writer.WriteString("END\r\n")
}

func (s *Server) handleTextDelete(writer *bufio.Writer, parts []string) {
	if len(parts) < 2 {
		writer.WriteString("CLIENT_ERROR bad command line format\r\n")
		return
	}
	key := parts[1]
	noreply := len(parts) > 2 && parts[2] == "noreply"

	_, err := s.m.Remove(key)
	if noreply {
		return
	}
	switch {
	case err == nil:
		writer.WriteString("DELETED\r\n")
	case errors.Is(err, offheap.ErrKeyNotFound):
		writer.WriteString("NOT_FOUND\r\n")
	default:
		writer.WriteString("SERVER_ERROR " + err.Error() + "\r\n")
	}
}

func (s *Server) handleTextStats(writer *bufio.Writer) {
	writer.WriteString(fmt.Sprintf("STAT pid %d\r\n", os.Getpid()))
	writer.WriteString(fmt.Sprintf("STAT uptime %d\r\n", int64(time.Since(s.startTime).Seconds())))
	writer.WriteString(fmt.Sprintf("STAT time %d\r\n", time.Now().Unix()))
	writer.WriteString("STAT version 1.0.0\r\n")
	writer.WriteString(fmt.Sprintf("STAT curr_connections %d\r\n", s.CurrentConnections()))
	if n, err := s.m.Len(); err == nil {
		writer.WriteString(fmt.Sprintf("STAT curr_items %d\r\n", n))
	}
	writer.WriteString("END\r\n")
}

// valueBytes renders a decoded map value for the wire. Maps served over
// the text protocol normally declare string values; other value types
// fall back to their Go formatting.
func valueBytes(val any) []byte {
	switch v := val.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return []byte(fmt.Sprint(v))
	}
}

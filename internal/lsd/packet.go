package lsd

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// DefaultAddress is the IPv4 multicast group of BEP 14.
const DefaultAddress = "239.192.152.143:6771"

const method = "BT-SEARCH"

// Info hashes are packed into one packet until this many bytes are reached.
const maxPacketSize = 1400

var errNotAnnounce = errors.New("not a BT-SEARCH announcement")

type announcement struct {
	Port       int
	InfoHashes [][20]byte
	Cookie     string
}

// encodeAnnouncements returns one or more packets announcing infoHashes on port.
func encodeAnnouncements(host string, port int, cookie string, infoHashes [][20]byte) [][]byte {
	var packets [][]byte
	var buf bytes.Buffer
	start := func() {
		buf.Reset()
		fmt.Fprintf(&buf, "%s * HTTP/1.1\r\nHost: %s\r\nPort: %d\r\n", method, host, port)
	}
	finish := func() {
		if cookie != "" {
			fmt.Fprintf(&buf, "cookie: %s\r\n", cookie)
		}
		buf.WriteString("\r\n\r\n")
		packets = append(packets, append([]byte(nil), buf.Bytes()...))
	}
	start()
	n := 0
	for _, ih := range infoHashes {
		line := "Infohash: " + hex.EncodeToString(ih[:]) + "\r\n"
		if n > 0 && buf.Len()+len(line) > maxPacketSize {
			finish()
			start()
			n = 0
		}
		buf.WriteString(line)
		n++
	}
	if n > 0 {
		finish()
	}
	return packets
}

func decodeAnnouncement(b []byte) (*announcement, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(b)))
	if err != nil {
		return nil, err
	}
	if req.Method != method {
		return nil, errNotAnnounce
	}
	port, err := strconv.ParseUint(req.Header.Get("Port"), 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid port: %q", req.Header.Get("Port"))
	}
	a := &announcement{
		Port:   int(port),
		Cookie: req.Header.Get("Cookie"),
	}
	for _, v := range req.Header.Values("Infohash") {
		ih, err := decodeInfoHash(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		a.InfoHashes = append(a.InfoHashes, ih)
	}
	if len(a.InfoHashes) == 0 {
		return nil, errors.New("no info hash")
	}
	return a, nil
}

func decodeInfoHash(s string) (ih [20]byte, err error) {
	if len(s) != 40 {
		return ih, fmt.Errorf("invalid info hash: %q", s)
	}
	_, err = hex.Decode(ih[:], []byte(s))
	return ih, err
}

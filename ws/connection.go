package ws

import (
	"compress/flate"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
)

// maxMessageSize bounds one relay message after inflation.
const maxMessageSize = 1 << 24

// conn frames nostr messages on a dialed relay socket, inflating and
// deflating them when the handshake agreed on permessage-deflate.
type conn struct {
	net.Conn
	deflated bool
	control  wsutil.FrameHandlerFunc
	r        *wsutil.Reader
	w        *wsutil.Writer
	in, out  wsflate.MessageState
	inflater *wsflate.Reader
	deflater *wsflate.Writer
}

func deflateAgreed(hs ws.Handshake) bool {
	for _, ext := range hs.Extensions {
		if string(ext.Name) == wsflate.ExtensionName {
			return true
		}
	}
	return false
}

// newConn wraps nc. src is where frames are read from, which differs from nc
// when the dialer buffered bytes past the handshake.
func newConn(nc net.Conn, src io.Reader, hs ws.Handshake) (cn *conn) {
	cn = &conn{
		Conn:     nc,
		deflated: deflateAgreed(hs),
		control:  wsutil.ControlFrameHandler(nc, ws.StateClientSide),
	}
	state := ws.StateClientSide
	if cn.deflated {
		state |= ws.StateExtended
		cn.in.SetCompressed(true)
		cn.out.SetCompressed(true)
		cn.inflater = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
		cn.deflater = wsflate.NewWriter(nil, func(w io.Writer) wsflate.Compressor {
			fw, err := flate.NewWriter(w, flate.BestSpeed)
			chk.E(err)
			return fw
		})
	}
	cn.r = &wsutil.Reader{
		Source:         src,
		State:          state,
		OnIntermediate: cn.control,
	}
	cn.w = wsutil.NewWriter(nc, state, ws.OpText)
	if cn.deflated {
		cn.r.Extensions = []wsutil.RecvExtension{&cn.in}
		cn.w.SetExtensions(&cn.out)
	}
	return
}

// write sends data as one text message.
func (cn *conn) write(c context.T, data []byte) (err error) {
	if err = c.Err(); err != nil {
		return
	}
	var dst io.Writer = cn.w
	if cn.deflated {
		cn.deflater.Reset(cn.w)
		dst = cn.deflater
	}
	if _, err = dst.Write(data); chk.T(err) {
		return errorf.E("failed to write message: %w", err)
	}
	if cn.deflated {
		if err = cn.deflater.Close(); chk.T(err) {
			return errorf.E("failed to close flate writer: %w", err)
		}
	}
	if err = cn.w.Flush(); chk.T(err) {
		return errorf.E("failed to flush message: %w", err)
	}
	return
}

// ping asks the relay to prove it is still there.
func (cn *conn) ping() error {
	return wsutil.WriteClientMessage(cn.Conn, ws.OpPing, nil)
}

// nextData answers control frames and drops stray continuations until a text
// or binary frame heads the reader.
func (cn *conn) nextData(c context.T) (err error) {
	for {
		if err = c.Err(); err != nil {
			return
		}
		var h ws.Header
		if h, err = cn.r.NextFrame(); err != nil {
			chk.T(cn.Close())
			return errorf.E("failed to advance frame: %w", err)
		}
		switch {
		case h.OpCode == ws.OpText, h.OpCode == ws.OpBinary:
			return
		case h.OpCode.IsControl():
			if err = cn.control(h, cn.r); chk.T(err) {
				return errorf.E("failed to handle control frame: %w", err)
			}
		}
		if err = cn.r.Discard(); chk.T(err) {
			return errorf.E("failed to discard frame: %w", err)
		}
	}
}

// read returns the next whole message. A message over maxMessageSize closes
// the socket.
func (cn *conn) read(c context.T) (msg []byte, err error) {
	if err = cn.nextData(c); err != nil {
		return
	}
	var src io.Reader = cn.r
	if cn.deflated && cn.in.IsCompressed() {
		cn.inflater.Reset(cn.r)
		src = cn.inflater
	}
	if msg, err = io.ReadAll(io.LimitReader(src, maxMessageSize+1)); chk.T(err) {
		return nil, errorf.E("failed to read message: %w", err)
	}
	if len(msg) > maxMessageSize {
		chk.T(cn.Close())
		return nil, errorf.E("relay message larger than %d bytes", maxMessageSize)
	}
	return
}

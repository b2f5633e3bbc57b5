package discovery

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/agaabrieel/bittorrent-live/internal/parser"
)

const compactPeerLen = 6

// ParserOptions select how peer lists are decoded.
type ParserOptions struct {
	// AllowCompact accepts the 6-byte-per-peer string form. Compact
	// entries carry no stream tag and are filed under DefaultStream.
	AllowCompact bool
	// RequireStreamTag skips verbose entries without "streamHash".
	// Otherwise untagged entries are filed under DefaultStream.
	RequireStreamTag bool
	DefaultStream    string
}

func LiveParserOptions() ParserOptions {
	return ParserOptions{RequireStreamTag: true}
}

func ClassicParserOptions(stream string) ParserOptions {
	return ParserOptions{AllowCompact: true, DefaultStream: stream}
}

type ParseResult struct {
	Inserted int
	Skipped  int
	// Cleared is set when this parse emptied the candidate set first.
	Cleared bool
}

// ResponseParser applies decoded tracker responses to the announce
// parameters and the candidate set. Updates are best effort: fields read
// before an abort stay applied.
type ResponseParser struct {
	opts       ParserOptions
	params     *AnnounceParameters
	candidates *CandidateSet
	local      func() PeerAddress
	logger     *zap.Logger

	refreshCycles int
	cycle         int
}

func NewResponseParser(opts ParserOptions, refreshCycles int, params *AnnounceParameters,
	candidates *CandidateSet, local func() PeerAddress, logger *zap.Logger) *ResponseParser {
	if refreshCycles <= 0 {
		refreshCycles = DefaultConfig().RefreshCycles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseParser{
		opts:          opts,
		params:        params,
		candidates:    candidates,
		local:         local,
		logger:        logger,
		refreshCycles: refreshCycles,
	}
}

func (p *ResponseParser) Parse(root *parser.BencodeValue) (ParseResult, error) {
	var res ParseResult

	if !root.IsDict() {
		return res, fmt.Errorf("%w: top-level value is not a dictionary", ErrMalformedResponse)
	}

	if reason, ok := root.Lookup("failure reason"); ok {
		msg, _ := reason.GetStringValue()
		return res, fmt.Errorf("%w: %q", ErrTrackerFailure, msg)
	}

	if warning, ok := root.LookupString("warning message"); ok {
		p.logger.Warn("tracker warning", zap.String("message", warning))
	}

	interval, ok := root.LookupInteger("interval")
	if !ok {
		return res, missingField("interval")
	}
	if interval > maxIntervalSeconds {
		return res, fmt.Errorf("%w: interval %ds out of range", ErrMalformedResponse, interval)
	}
	p.params.Interval = time.Duration(interval) * time.Second

	leechers, ok := root.LookupInteger("incomplete")
	if !ok {
		return res, missingField("incomplete")
	}
	seeders, ok := root.LookupInteger("complete")
	if !ok {
		return res, missingField("complete")
	}
	p.params.Leechers, p.params.Seeders = leechers, seeders

	if id, ok := root.LookupString("tracker id"); ok {
		p.params.TrackerID = id
	}

	peers, ok := root.Lookup("peers")
	if !ok {
		return res, missingField("peers")
	}

	if p.cycle == p.refreshCycles-1 {
		p.candidates.Clear()
		res.Cleared = true
	}
	p.cycle = (p.cycle + 1) % p.refreshCycles

	var err error
	switch peers.ValueType {
	case parser.BencodeString:
		err = p.parseCompact(peers.StringValue, &res)
	case parser.BencodeList:
		p.parseVerbose(peers.ListValue, &res)
	default:
		err = fmt.Errorf("%w: peers is a %v", ErrMalformedResponse, peers.ValueType)
	}
	if err != nil {
		return res, err
	}

	p.logger.Debug("tracker response applied",
		zap.Duration("interval", p.params.Interval),
		zap.Int64("leechers", leechers),
		zap.Int64("seeders", seeders),
		zap.Int("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Bool("cleared", res.Cleared),
		zap.Int("candidates", p.candidates.Len()))

	return res, nil
}

func (p *ResponseParser) parseCompact(data []byte, res *ParseResult) error {
	if !p.opts.AllowCompact {
		return ErrUnsupportedPeerList
	}
	if len(data)%compactPeerLen != 0 {
		return fmt.Errorf("%w: compact peer list of %d bytes", ErrMalformedResponse, len(data))
	}
	for i := 0; i < len(data); i += compactPeerLen {
		addr := PeerAddress{
			IP:   binary.BigEndian.Uint32(data[i : i+4]),
			Port: binary.BigEndian.Uint16(data[i+4 : i+6]),
		}
		p.insert(CandidateEntry{StreamHash: p.opts.DefaultStream, Addr: addr}, res)
	}
	return nil
}

func (p *ResponseParser) parseVerbose(list []parser.BencodeValue, res *ParseResult) {
	for i := range list {
		entry, ok := p.verboseEntry(&list[i])
		if !ok {
			res.Skipped++
			continue
		}
		p.insert(entry, res)
	}
}

func (p *ResponseParser) verboseEntry(v *parser.BencodeValue) (CandidateEntry, bool) {
	rawIP, ok := v.LookupString("ip")
	if !ok {
		return CandidateEntry{}, false
	}
	port, ok := v.LookupInteger("port")
	if !ok || port < 0 || port > 0xffff {
		return CandidateEntry{}, false
	}
	stream, ok := v.LookupString("streamHash")
	if !ok {
		if p.opts.RequireStreamTag {
			return CandidateEntry{}, false
		}
		stream = p.opts.DefaultStream
	}
	ip, err := ParseIPv4(rawIP)
	if err != nil {
		p.logger.Debug("skipping peer", zap.String("ip", rawIP), zap.Error(err))
		return CandidateEntry{}, false
	}
	return CandidateEntry{StreamHash: stream, Addr: PeerAddress{IP: ip, Port: uint16(port)}}, true
}

func (p *ResponseParser) insert(e CandidateEntry, res *ParseResult) {
	if p.local != nil && e.Addr == p.local() {
		return
	}
	if p.candidates.Add(e) {
		res.Inserted++
	}
}

// maxIntervalSeconds is the largest interval a time.Duration can hold.
const maxIntervalSeconds = int64(math.MaxInt64 / int64(time.Second))

func missingField(name string) error {
	return fmt.Errorf("%w: missing or mistyped %q", ErrMalformedResponse, name)
}

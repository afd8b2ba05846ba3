package codec

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var requiredColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

// LoadSignalMapFile reads a signal map CSV from path.
func LoadSignalMapFile(path string) ([]MessageDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open signal map")
	}
	defer f.Close()

	descs, err := LoadSignalMap(f)
	if err != nil {
		return nil, errors.Wrapf(err, "signal map %s", path)
	}
	return descs, nil
}

// LoadSignalMap reads one row per signal and groups the rows into messages.
//
// Start bits of big endian signals use the DBC convention (position of the MSB)
// and are converted with MotorolaStart. The optional columns kind, role, enum
// ("0:OFF;1:ON"), packed_in and extended refine a signal. Every message is
// validated before it is returned.
func LoadSignalMap(r io.Reader) ([]MessageDescriptor, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, errors.Newf("missing required column %q", k)
		}
	}

	byID := map[MessageID]*MessageDescriptor{}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		row := csvRow{rec: rec, idx: idx}
		md, sig, err := row.parse()
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		cur, ok := byID[md.ID]
		if !ok {
			cur = &md
			byID[md.ID] = cur
		}
		if cur.Length != md.Length || cur.CycleMS != md.CycleMS || cur.Name != md.Name || cur.Direction != md.Direction {
			return nil, errors.Newf("line %d: frame %s (%s) redefined with different attributes", line, md.Name, md.ID)
		}
		cur.Signals = append(cur.Signals, sig)
	}

	out := make([]MessageDescriptor, 0, len(byID))
	for _, md := range byID {
		if err := md.Validate(); err != nil {
			return nil, err
		}
		out = append(out, *md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

type csvRow struct {
	rec []string
	idx map[string]int
	err error
}

func (r *csvRow) get(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *csvRow) int(col string) int {
	if r.err != nil {
		return 0
	}
	v, err := strconv.Atoi(r.get(col))
	if err != nil {
		r.err = errors.Wrapf(err, "column %s", col)
	}
	return v
}

func (r *csvRow) float(col string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(r.get(col), 64)
	if err != nil {
		r.err = errors.Wrapf(err, "column %s", col)
	}
	return v
}

func (r *csvRow) bool(col string) bool {
	switch strings.ToLower(r.get(col)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (r *csvRow) parse() (MessageDescriptor, SignalDescriptor, error) {
	id, err := parseHexOrDecUint32(r.get("frame_id"))
	if err != nil {
		return MessageDescriptor{}, SignalDescriptor{}, errors.Wrapf(err, "invalid frame_id %q", r.get("frame_id"))
	}

	md := MessageDescriptor{
		ID:        MessageID(id),
		Name:      r.get("frame_name"),
		Length:    r.int("dlc"),
		CycleMS:   r.int("cycle_ms"),
		Extended:  r.bool("extended"),
		Direction: Rx,
	}
	switch strings.ToLower(r.get("direction")) {
	case "tx", "out", "command":
		md.Direction = Tx
	case "rx", "in", "report", "":
	default:
		return md, SignalDescriptor{}, errors.Newf("unknown direction %q", r.get("direction"))
	}

	sig := SignalDescriptor{
		Name:     r.get("signal_name"),
		Start:    r.int("start_bit"),
		Length:   r.int("bit_length"),
		Signed:   r.bool("signed"),
		Scale:    r.float("factor"),
		Offset:   r.float("offset"),
		Min:      r.float("min"),
		Max:      r.float("max"),
		Default:  r.float("default"),
		Unit:     r.get("unit"),
		Comment:  r.get("comment"),
		PackedIn: r.get("packed_in"),
	}
	if r.err != nil {
		return md, sig, errors.Wrapf(r.err, "signal %q", sig.Name)
	}

	switch strings.ToLower(r.get("endianness")) {
	case "", "little", "intel":
		sig.Order = LittleEndian
	case "big", "motorola":
		sig.Order = BigEndian
		sig.Start = MotorolaStart(sig.Start)
	default:
		return md, sig, errors.Newf("signal %s: unsupported endianness %q", sig.Name, r.get("endianness"))
	}

	switch strings.ToLower(r.get("kind")) {
	case "", "float":
		sig.Kind = KindFloat
	case "flag", "bool":
		sig.Kind = KindFlag
	case "enum":
		sig.Kind = KindEnum
	default:
		return md, sig, errors.Newf("signal %s: unknown kind %q", sig.Name, r.get("kind"))
	}

	switch strings.ToLower(r.get("role")) {
	case "", "data":
		sig.Role = RoleData
	case "checksum":
		sig.Role = RoleChecksum
	case "counter":
		sig.Role = RoleCounter
	default:
		return md, sig, errors.Newf("signal %s: unknown role %q", sig.Name, r.get("role"))
	}

	if table := r.get("enum"); table != "" {
		sig.Enum, err = parseEnumTable(table)
		if err != nil {
			return md, sig, errors.Wrapf(err, "signal %s", sig.Name)
		}
	}

	return md, sig, nil
}

func parseEnumTable(s string) (map[int64]string, error) {
	out := map[int64]string{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		k, label, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Newf("enum entry %q is not value:label", entry)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(k), 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "enum entry %q", entry)
		}
		out[v] = strings.TrimSpace(label)
	}
	return out, nil
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

package motion

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"

	"github.com/mogaika/mmd_runtime/utils"
)

const VPD_MAGIC = "Vocaloid Pose Data file"

const (
	TOKEN_BONE = iota
	TOKEN_MORPH
	TOKEN_NUMBER
	TOKEN_NAME
	TOKEN_COMMA
	TOKEN_SEMICOLON
	TOKEN_CLOSE
	TOKEN_NEWLINE
)

var vpdLexer *lexmachine.Lexer
var vpdLexerErr error

func init() {
	vpdLexer = lexmachine.NewLexer()
	vpdLexer.Add([]byte(`//[^\n]*`), skip)
	vpdLexer.Add([]byte(`Bone[0-9]+[{]`), getToken(TOKEN_BONE))
	vpdLexer.Add([]byte(`Morph[0-9]+[{]`), getToken(TOKEN_MORPH))
	vpdLexer.Add([]byte(`[\+\-]?[0-9]*\.?[0-9]+([eE][\+\-]?[0-9]+)?`), getToken(TOKEN_NUMBER))
	vpdLexer.Add([]byte(`,`), getToken(TOKEN_COMMA))
	vpdLexer.Add([]byte(`;`), getToken(TOKEN_SEMICOLON))
	vpdLexer.Add([]byte(`[}]`), getToken(TOKEN_CLOSE))
	vpdLexer.Add([]byte(`(\n|\r)+`), getToken(TOKEN_NEWLINE))
	vpdLexer.Add([]byte("[ \t]+"), skip)
	vpdLexer.Add([]byte("[^ \t\r\n,;{}/]+"), getToken(TOKEN_NAME))
	vpdLexerErr = vpdLexer.Compile()
}

func getToken(tokenType int) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(tokenType, string(m.Bytes), m), nil
	}
}

func skip(scan *lexmachine.Scanner, match *machines.Match) (interface{}, error) {
	return nil, nil
}

type PoseBone struct {
	Name        string
	Translation mgl32.Vec3
	Orientation mgl32.Quat
}

type PoseMorph struct {
	Name   string
	Weight float32
}

// Pose is single frame of bone and morph values, in runtime coordinates
type Pose struct {
	ModelName string
	Bones     []PoseBone
	Morphs    []PoseMorph
}

func ParseVPD(r io.Reader) (*Pose, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read vpd stream")
	}
	return parseVPD(data)
}

func LoadVPD(path string) (*Pose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open vpd %q", path)
	}
	p, err := parseVPD(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse vpd %q", path)
	}
	log.Printf("[vpd] Loaded %q: %d bones, %d morphs", path, len(p.Bones), len(p.Morphs))
	return p, nil
}

type vpdLine struct {
	number int
	tokens []*lexmachine.Token
}

func vpdFail(line int, field string, err error) error {
	return &ParseError{Format: "vpd", Field: field, Line: line, Err: err}
}

func tokenizeVPD(text []byte) ([]vpdLine, error) {
	if vpdLexerErr != nil {
		return nil, errors.Wrapf(vpdLexerErr, "Failed to compile vpd lexer")
	}
	scanner, err := vpdLexer.Scanner(text)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create lexer scanner")
	}

	lines := make([]vpdLine, 0, 64)
	var current vpdLine
	for itok, err, eos := scanner.Next(); !eos; itok, err, eos = scanner.Next() {
		if err != nil {
			line := 0
			if ue, ok := err.(*machines.UnconsumedInput); ok {
				line = ue.StartLine
			}
			return nil, vpdFail(line, "token", err)
		}
		tok := itok.(*lexmachine.Token)
		if tok.Type == TOKEN_NEWLINE {
			if len(current.tokens) != 0 {
				lines = append(lines, current)
			}
			current = vpdLine{}
			continue
		}
		if len(current.tokens) == 0 {
			current.number = tok.StartLine
		}
		current.tokens = append(current.tokens, tok)
	}
	if len(current.tokens) != 0 {
		lines = append(lines, current)
	}
	return lines, nil
}

// rawSpan returns source text covered by tokens, keeping inner spaces of names
func rawSpan(text []byte, tokens []*lexmachine.Token) string {
	first, last := tokens[0], tokens[len(tokens)-1]
	return strings.TrimSpace(string(text[first.TC : last.TC+len(last.Lexeme)]))
}

// numbers parses "a,b,c;" line
func numbers(l vpdLine) ([]float32, error) {
	result := make([]float32, 0, 4)
	expectNumber := true
	for _, tok := range l.tokens {
		switch {
		case expectNumber && tok.Type == TOKEN_NUMBER:
			v, err := strconv.ParseFloat(string(tok.Lexeme), 32)
			if err != nil {
				return nil, vpdFail(l.number, "number", err)
			}
			result = append(result, float32(v))
			expectNumber = false
		case !expectNumber && tok.Type == TOKEN_COMMA:
			expectNumber = true
		case !expectNumber && tok.Type == TOKEN_SEMICOLON:
			return result, nil
		default:
			return nil, vpdFail(l.number, "number list", errors.Errorf("Unexpected %q", tok.Lexeme))
		}
	}
	return nil, vpdFail(l.number, "number list", errors.Errorf("Missing ';'"))
}

func parseVPD(data []byte) (*Pose, error) {
	text, err := utils.DecodeText(data)
	if err != nil {
		return nil, vpdFail(1, "text", err)
	}
	text = strings.TrimPrefix(text, "\ufeff")

	headerEnd := strings.IndexAny(text, "\r\n")
	if headerEnd < 0 {
		headerEnd = len(text)
	}
	if !strings.HasPrefix(strings.TrimSpace(text[:headerEnd]), VPD_MAGIC) {
		return nil, vpdFail(1, "header", errors.Errorf("Unknown magic %q", text[:headerEnd]))
	}
	// keep header line as empty line so line numbers stay valid
	body := []byte(strings.Repeat(" ", headerEnd) + text[headerEnd:])

	lines, err := tokenizeVPD(body)
	if err != nil {
		return nil, err
	}

	pose := &Pose{}
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		head := l.tokens[0]

		switch head.Type {
		case TOKEN_BONE, TOKEN_MORPH:
			isBone := head.Type == TOKEN_BONE
			var name string
			if len(l.tokens) > 1 {
				name = rawSpan(body, l.tokens[1:])
			} else {
				i++
				if i >= len(lines) {
					return nil, vpdFail(l.number, "block name", io.ErrUnexpectedEOF)
				}
				name = rawSpan(body, lines[i].tokens)
			}

			bone := PoseBone{Name: name, Orientation: mgl32.QuatIdent()}
			morph := PoseMorph{Name: name}
			closed := false
			for i+1 < len(lines) && !closed {
				i++
				bl := lines[i]
				if bl.tokens[0].Type == TOKEN_CLOSE {
					closed = true
					break
				}
				values, err := numbers(bl)
				if err != nil {
					return nil, err
				}
				if len(bl.tokens) > 0 && bl.tokens[len(bl.tokens)-1].Type == TOKEN_CLOSE {
					closed = true
				}
				switch {
				case isBone && len(values) == 3:
					bone.Translation = flipTranslation(mgl32.Vec3{values[0], values[1], values[2]})
				case isBone && len(values) == 4:
					bone.Orientation = flipOrientation(mgl32.Quat{W: values[3], V: mgl32.Vec3{values[0], values[1], values[2]}})
				case !isBone && len(values) == 1:
					morph.Weight = values[0]
				default:
					return nil, vpdFail(bl.number, name, errors.Errorf("Unexpected %d values", len(values)))
				}
			}
			if !closed {
				return nil, vpdFail(l.number, name, errors.Errorf("Block is not closed"))
			}
			if isBone {
				pose.Bones = append(pose.Bones, bone)
			} else {
				pose.Morphs = append(pose.Morphs, morph)
			}
		case TOKEN_NUMBER:
			// total bone count, recomputed from blocks
		case TOKEN_NAME:
			if pose.ModelName == "" && l.tokens[len(l.tokens)-1].Type == TOKEN_SEMICOLON {
				pose.ModelName = rawSpan(body, l.tokens[:len(l.tokens)-1])
			} else {
				return nil, vpdFail(l.number, "statement", errors.Errorf("Unexpected %q", head.Lexeme))
			}
		default:
			return nil, vpdFail(l.number, "statement", errors.Errorf("Unexpected %q", head.Lexeme))
		}
	}
	return pose, nil
}

// ToMotion converts pose into motion with single keyframe at frame 0
func (p *Pose) ToMotion() *Motion {
	m := NewMotion()
	m.ModelName = p.ModelName
	for _, b := range p.Bones {
		m.BoneTrack(b.Name).Insert(0, BoneKeyframe{
			Translation: b.Translation,
			Orientation: b.Orientation,
		})
	}
	for _, mo := range p.Morphs {
		m.MorphTrack(mo.Name).Insert(0, mo.Weight)
	}
	return m
}

// PoseFromMotion samples every bone and morph track of m at frame
func PoseFromMotion(m *Motion, frame uint32) *Pose {
	p := &Pose{ModelName: m.ModelName}
	for _, name := range sortedKeys(m.BoneTracks) {
		bft := m.BoneTracks[name].Seek(frame)
		p.Bones = append(p.Bones, PoseBone{Name: name, Translation: bft.Translation, Orientation: bft.Orientation})
	}
	for _, name := range sortedKeys(m.MorphTracks) {
		p.Morphs = append(p.Morphs, PoseMorph{Name: name, Weight: m.MorphTracks[name].Seek(frame)})
	}
	return p
}

func WriteVPD(w io.Writer, p *Pose) error {
	var b bytes.Buffer
	b.WriteString(VPD_MAGIC + "\r\n\r\n")
	modelName := p.ModelName
	if modelName == "" {
		modelName = "model.osm"
	}
	fmt.Fprintf(&b, "%s;\t\t// parent file name\r\n", modelName)
	fmt.Fprintf(&b, "%d;\t\t\t\t// total bones\r\n\r\n", len(p.Bones))

	for i, bone := range p.Bones {
		t := flipTranslation(bone.Translation)
		q := flipOrientation(bone.Orientation)
		fmt.Fprintf(&b, "Bone%d{%s\r\n", i, bone.Name)
		fmt.Fprintf(&b, "  %f,%f,%f;\t\t\t\t// trans x,y,z\r\n", t[0], t[1], t[2])
		fmt.Fprintf(&b, "  %f,%f,%f,%f;\t\t// Quaternion x,y,z,w\r\n", q.V[0], q.V[1], q.V[2], q.W)
		b.WriteString("}\r\n\r\n")
	}
	for i, morph := range p.Morphs {
		fmt.Fprintf(&b, "Morph%d{%s\r\n  %f;\r\n}\r\n\r\n", i, morph.Name, morph.Weight)
	}

	encoded, err := utils.StringToBytes(b.String())
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}

package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	messages := []*Message{
		NewHandshakeRequest("Bob"),
		NewHandshakeResponse("Alice", 12345),
		NewSpectatorRequest("Carol"),
		NewBattleSetup("Pikachu", 35, 5, 5),
		NewAttackAnnounce("Thunderbolt", false),
		NewAttackAnnounce("Thunder", true),
		NewDefenseAnnounce(true),
		NewCalculationReport(40, 10),
		NewCalculationConfirm(),
		NewResolutionRequest(41, 9),
		NewGameOver("Pikachu", "Charmander"),
		NewChatText("Bob", "good luck!"),
		NewChatSticker("Alice", "aGVsbG8="),
	}

	for i, m := range messages {
		m.Seq = uint32(i + 1)
		data, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.Type, err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %s: %v", m.Type, err)
		}

		if decoded.Type != m.Type {
			t.Errorf("type mismatch: got %s, want %s", decoded.Type, m.Type)
		}
		if decoded.Seq != m.Seq {
			t.Errorf("%s: seq mismatch: got %d, want %d", m.Type, decoded.Seq, m.Seq)
		}
		if !reflect.DeepEqual(decoded.Fields, m.Fields) {
			t.Errorf("%s: fields mismatch:\n got %v\nwant %v", m.Type, decoded.Fields, m.Fields)
		}
	}
}

func TestEncode_AckCarriesNoSequenceNumber(t *testing.T) {
	data, err := Encode(NewAck(7))
	if err != nil {
		t.Fatal(err)
	}

	text := string(data)
	if strings.Contains(text, FieldSeq) {
		t.Errorf("ACK must not carry a sequence number: %q", text)
	}
	if !strings.HasPrefix(text, "type:ACK\n") {
		t.Errorf("type must be the first pair: %q", text)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := decoded.AckedSeq()
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 {
		t.Errorf("acked seq = %d, want 7", seq)
	}
}

func TestEncode_TypeFirstAndStableOrder(t *testing.T) {
	m := NewAttackAnnounce("Thunderbolt", false)
	m.Seq = 7
	data, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}

	want := "type:ATTACK_ANNOUNCE\nsequence_number:7\nmove:Thunderbolt\nuse_sp_atk_boost:false\n"
	if string(data) != want {
		t.Errorf("wire form:\n got %q\nwant %q", data, want)
	}
}

func TestEncode_RejectsNewlinesInValues(t *testing.T) {
	m := NewChatText("Bob", "two\nlines")
	m.Seq = 1
	if _, err := Encode(m); err == nil {
		t.Error("expected an error for a newline inside a value")
	}
}

func TestDecode_PreservesUnknownKeys(t *testing.T) {
	data := []byte("type:ATTACK_ANNOUNCE\nsequence_number:3\nmove:Tackle\nuse_sp_atk_boost:false\nfancy_extra:42\n")
	m, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if m.Get("fancy_extra") != "42" {
		t.Errorf("unknown key not preserved: %v", m.Fields)
	}

	// And it survives a re-encode.
	out, err := Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "fancy_extra:42") {
		t.Errorf("unknown key lost on re-encode: %q", out)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	data := []byte("type:MYSTERY_DANCE\nsequence_number:9\n")
	m, err := Decode(data)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if m == nil || m.Seq != 9 {
		t.Errorf("partial message should carry the sequence number for acking, got %+v", m)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no separator", "type:ACK\ngibberish"},
		{"missing type", "sequence_number:1\nmove:Tackle"},
		{"missing seq", "type:ATTACK_ANNOUNCE\nmove:Tackle\nuse_sp_atk_boost:false"},
		{"bad seq", "type:ATTACK_ANNOUNCE\nsequence_number:banana\nmove:Tackle\nuse_sp_atk_boost:false"},
		{"missing required field", "type:ATTACK_ANNOUNCE\nsequence_number:1\nmove:Tackle"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("expected *DecodeError, got %v", err)
			}
		})
	}
}

func TestDecode_TolerantOfWhitespace(t *testing.T) {
	data := []byte("type: ACK\r\nack: 12\r\n\r\n")
	m, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeAck {
		t.Errorf("type = %s, want ACK", m.Type)
	}
	seq, err := m.AckedSeq()
	if err != nil || seq != 12 {
		t.Errorf("acked seq = %d (%v), want 12", seq, err)
	}
}

package solana

import (
	"bytes"
	"crypto/ed25519"
	"io"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana/shortvec"
)

// Marshal returns the wire encoding of the transaction: the signature list
// followed by the message.
func (t Transaction) Marshal() []byte {
	var b bytes.Buffer

	writeLen(&b, len(t.Signatures))
	for _, s := range t.Signatures {
		b.Write(s[:])
	}
	b.Write(t.Message.Marshal())

	return b.Bytes()
}

func (t *Transaction) Unmarshal(b []byte) error {
	r := bytes.NewReader(b)

	count, err := shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read signature count")
	}
	if count > r.Len()/ed25519.SignatureSize {
		return errors.Errorf("signature count %d exceeds remaining bytes", count)
	}

	t.Signatures = make([]Signature, count)
	for i := range t.Signatures {
		if _, err := io.ReadFull(r, t.Signatures[i][:]); err != nil {
			return errors.Wrapf(err, "failed to read signature %d", i)
		}
	}

	rest := make([]byte, r.Len())
	_, _ = r.Read(rest)
	return t.Message.Unmarshal(rest)
}

// Marshal returns the legacy message encoding, which is also the payload
// covered by each signature.
func (m Message) Marshal() []byte {
	var b bytes.Buffer

	b.Write([]byte{m.Header.NumSignatures, m.Header.NumReadonlySigned, m.Header.NumReadOnly})

	writeLen(&b, len(m.Accounts))
	for _, account := range m.Accounts {
		b.Write(account)
	}
	b.Write(m.RecentBlockhash[:])

	writeLen(&b, len(m.Instructions))
	for _, instruction := range m.Instructions {
		b.WriteByte(instruction.ProgramIndex)
		writeBytes(&b, instruction.Accounts)
		writeBytes(&b, instruction.Data)
	}

	return b.Bytes()
}

func (m *Message) Unmarshal(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty message")
	}
	if b[0]&0x80 != 0 {
		return errors.New("versioned messages not supported")
	}

	r := bytes.NewReader(b)

	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return errors.Wrap(err, "failed to read message header")
	}
	m.Header = Header{
		NumSignatures:     header[0],
		NumReadonlySigned: header[1],
		NumReadOnly:       header[2],
	}

	count, err := shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read account count")
	}
	m.Accounts = make([]ed25519.PublicKey, count)
	for i := range m.Accounts {
		m.Accounts[i] = make(ed25519.PublicKey, ed25519.PublicKeySize)
		if _, err := io.ReadFull(r, m.Accounts[i]); err != nil {
			return errors.Wrapf(err, "failed to read account %d", i)
		}
	}

	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return errors.Wrap(err, "failed to read recent blockhash")
	}

	count, err = shortvec.DecodeLen(r)
	if err != nil {
		return errors.Wrap(err, "failed to read instruction count")
	}
	m.Instructions = make([]CompiledInstruction, count)
	for i := range m.Instructions {
		c, err := m.readInstruction(r)
		if err != nil {
			return errors.Wrapf(err, "failed to read instruction %d", i)
		}
		m.Instructions[i] = c
	}

	return nil
}

func (m *Message) readInstruction(r *bytes.Reader) (c CompiledInstruction, err error) {
	if c.ProgramIndex, err = r.ReadByte(); err != nil {
		return c, errors.Wrap(err, "program index")
	}
	if int(c.ProgramIndex) >= len(m.Accounts) {
		return c, errors.Errorf("program index %d out of range", c.ProgramIndex)
	}

	if c.Accounts, err = readBytes(r); err != nil {
		return c, errors.Wrap(err, "accounts")
	}
	for _, index := range c.Accounts {
		if int(index) >= len(m.Accounts) {
			return c, errors.Errorf("account index %d out of range", index)
		}
	}

	if c.Data, err = readBytes(r); err != nil {
		return c, errors.Wrap(err, "data")
	}
	return c, nil
}

// writeLen ignores encoding errors; lengths stay far below a u16.
func writeLen(b *bytes.Buffer, n int) {
	_, _ = shortvec.EncodeLen(b, n)
}

func writeBytes(b *bytes.Buffer, data []byte) {
	writeLen(b, len(data))
	b.Write(data)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := shortvec.DecodeLen(r)
	if err != nil {
		return nil, err
	}
	if n > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}

	data := make([]byte, n)
	_, err = io.ReadFull(r, data)
	return data, err
}

package protocol

var (
	_ Message = (*Login)(nil)
	_ Message = (*LoginAck)(nil)
	_ Message = (*LoginEvent)(nil)
	_ Message = (*PositionUpdate)(nil)
	_ Message = (*PositionEvent)(nil)
	_ Message = (*LogoutEvent)(nil)
)

// Login is sent by a client once connected. ID is ignored by the server,
// clients send zero.
type Login struct {
	ID uint32
}

func (*Login) Kind() Kind       { return KindLogin }
func (m *Login) PeerID() uint32 { return m.ID }

func (m *Login) MarshalBinary() ([]byte, error) {
	return marshalShort(KindLogin, m.ID), nil
}

func (m *Login) UnmarshalBinary(data []byte) (err error) {
	m.ID, err = unmarshalShort(data, KindLogin)
	return err
}

// LoginAck tells a client which identity it was assigned.
type LoginAck struct {
	ID uint32
}

func (*LoginAck) Kind() Kind       { return KindLoginAck }
func (m *LoginAck) PeerID() uint32 { return m.ID }

func (m *LoginAck) MarshalBinary() ([]byte, error) {
	return marshalShort(KindLoginAck, m.ID), nil
}

func (m *LoginAck) UnmarshalBinary(data []byte) (err error) {
	m.ID, err = unmarshalShort(data, KindLoginAck)
	return err
}

// LoginEvent announces a peer that joined.
type LoginEvent struct {
	ID uint32
}

func (*LoginEvent) Kind() Kind       { return KindLoginEvent }
func (m *LoginEvent) PeerID() uint32 { return m.ID }

func (m *LoginEvent) MarshalBinary() ([]byte, error) {
	return marshalShort(KindLoginEvent, m.ID), nil
}

func (m *LoginEvent) UnmarshalBinary(data []byte) (err error) {
	m.ID, err = unmarshalShort(data, KindLoginEvent)
	return err
}

type PositionUpdate struct {
	ID       uint32
	Position Position
}

func (*PositionUpdate) Kind() Kind       { return KindPositionUpdate }
func (m *PositionUpdate) PeerID() uint32 { return m.ID }

func (m *PositionUpdate) MarshalBinary() ([]byte, error) {
	return marshalLong(KindPositionUpdate, m.ID, m.Position), nil
}

func (m *PositionUpdate) UnmarshalBinary(data []byte) (err error) {
	m.ID, m.Position, err = unmarshalLong(data, KindPositionUpdate)
	return err
}

type PositionEvent struct {
	ID       uint32
	Position Position
}

func (*PositionEvent) Kind() Kind       { return KindPositionEvent }
func (m *PositionEvent) PeerID() uint32 { return m.ID }

func (m *PositionEvent) MarshalBinary() ([]byte, error) {
	return marshalLong(KindPositionEvent, m.ID, m.Position), nil
}

func (m *PositionEvent) UnmarshalBinary(data []byte) (err error) {
	m.ID, m.Position, err = unmarshalLong(data, KindPositionEvent)
	return err
}

// LogoutEvent announces a peer that left or timed out.
type LogoutEvent struct {
	ID uint32
}

func (*LogoutEvent) Kind() Kind       { return KindLogoutEvent }
func (m *LogoutEvent) PeerID() uint32 { return m.ID }

func (m *LogoutEvent) MarshalBinary() ([]byte, error) {
	return marshalShort(KindLogoutEvent, m.ID), nil
}

func (m *LogoutEvent) UnmarshalBinary(data []byte) (err error) {
	m.ID, err = unmarshalShort(data, KindLogoutEvent)
	return err
}

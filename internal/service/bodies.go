package service

import "chatgraph/internal/domain"

// Cipher seals message bodies at rest.
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(enc string) (string, error)
}

// openMessage decrypts m.Body in place. Bodies that cannot be decrypted are
// left as stored.
func openMessage(c Cipher, m *domain.Message) {
	if m == nil {
		return
	}
	if plain, err := c.Decrypt(m.Body); err == nil {
		m.Body = plain
	}
}

func openConversation(c Cipher, conv *domain.Conversation) {
	if conv != nil {
		openMessage(c, conv.LatestMessage)
	}
}

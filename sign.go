package pubsub

import (
	"crypto/rand"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// signingPrefix is prepended to the marshalled, signature-cleared message
// before signing or verifying, exactly as rust-libp2p's gossipsub does (see
// original_source/waku-relay/src/gossipsub/signing.rs): it keeps a pubsub
// message signature from ever being a valid signature over anything else.
const signingPrefix = "libp2p-pubsub:"

// inlineKeyThreshold is the encoded public key size, in bytes, above which
// the key is carried in the message's Key field; a key at or below it is
// left out, since the verifier recovers it from the From peer id.
const inlineKeyThreshold = 42

// MessageSigner populates the authorship fields (From, Signature, Key) of
// an outgoing message before it is handed to the router. The sequence
// number is always assigned by the caller (PubSub.nextSeqno), since
// duplicate-suppression ordering is a router concern, not a signer one. C4
// names four policies; each is a MessageSigner.
type MessageSigner interface {
	Sign(local peer.ID, privKey crypto.PrivKey, msg *pb.Message) error
}

// NoopSigner leaves the message entirely unauthored: no From, no
// Signature, no Key. Pairs with AnonymousValidator or NoopValidator.
type NoopSigner struct{}

func (NoopSigner) Sign(peer.ID, crypto.PrivKey, *pb.Message) error { return nil }

// RandomAuthorSigner stamps a random author id on each message without
// proving authorship with a signature. Useful for breaking message-id
// collisions across independently-originated anonymous traffic without
// tying messages to a real identity.
type RandomAuthorSigner struct{}

func NewRandomAuthorSigner() *RandomAuthorSigner { return &RandomAuthorSigner{} }

func (s *RandomAuthorSigner) Sign(_ peer.ID, _ crypto.PrivKey, msg *pb.Message) error {
	randID := make([]byte, 32)
	if _, err := rand.Read(randID); err != nil {
		return err
	}
	msg.From = randID
	return nil
}

// AuthorOnlySigner stamps the local peer id but does not sign: the message
// claims an author without proving it.
type AuthorOnlySigner struct{}

func NewAuthorOnlySigner() *AuthorOnlySigner { return &AuthorOnlySigner{} }

func (s *AuthorOnlySigner) Sign(local peer.ID, _ crypto.PrivKey, msg *pb.Message) error {
	msg.From = []byte(local)
	return nil
}

// KeyedSigner (the Libp2pSigner of the spec) stamps the author and
// cryptographically signs the message with the local private key,
// attaching the public key in the Key field only when it is larger than
// inlineKeyThreshold and so cannot be recovered from the peer id.
type KeyedSigner struct{}

func NewKeyedSigner() *KeyedSigner { return &KeyedSigner{} }

func (s *KeyedSigner) Sign(local peer.ID, privKey crypto.PrivKey, msg *pb.Message) error {
	if privKey == nil {
		return ErrSigningRequiredNoKey
	}

	msg.From = []byte(local)

	sig, err := signMessage(privKey, msg)
	if err != nil {
		return err
	}
	msg.Signature = sig

	pubKey := privKey.GetPublic()
	pubBytes, err := crypto.MarshalPublicKey(pubKey)
	if err != nil {
		return err
	}
	if len(pubBytes) > inlineKeyThreshold {
		msg.Key = pubBytes
	}

	return nil
}

// signMessage computes the libp2p-pubsub signature over msg: the signing
// prefix concatenated with the protobuf encoding of msg with Signature and
// Key cleared.
func signMessage(privKey crypto.PrivKey, msg *pb.Message) ([]byte, error) {
	cleared := msg.SignatureClearedCopy()
	encoded, err := cleared.Marshal()
	if err != nil {
		return nil, err
	}
	return privKey.Sign(append([]byte(signingPrefix), encoded...))
}

// verifyMessageSignature verifies msg.Signature against pubKey using the
// same libp2p-pubsub scheme used to produce it.
func verifyMessageSignature(pubKey crypto.PubKey, msg *pb.Message) (bool, error) {
	cleared := msg.SignatureClearedCopy()
	encoded, err := cleared.Marshal()
	if err != nil {
		return false, err
	}
	return pubKey.Verify(append([]byte(signingPrefix), encoded...), msg.Signature)
}

// publicKeyForMessage resolves the public key that should have produced
// msg.Signature: the inlined Key field if present, otherwise the key
// embedded in an Ed25519/Secp256k1 peer id, otherwise an error.
func publicKeyForMessage(msg *pb.Message) (crypto.PubKey, error) {
	if len(msg.Key) > 0 {
		pk, err := crypto.UnmarshalPublicKey(msg.Key)
		if err != nil {
			return nil, err
		}
		expected, err := peer.IDFromPublicKey(pk)
		if err != nil {
			return nil, err
		}
		if !peer.ID(msg.From).MatchesPublicKey(pk) {
			return nil, fmt.Errorf("pubsub: inlined key does not match message author %s (got %s)", peer.ID(msg.From), expected)
		}
		return pk, nil
	}

	pid := peer.ID(msg.From)
	return pid.ExtractPublicKey()
}

// MessageValidator is the protocol-level counterpart to MessageSigner: it
// decides, independent of any application validator, whether a message's
// authorship claim is acceptable. C3 names four policies.
type MessageValidator interface {
	Validate(msg *pb.Message) error
}

// NoopValidator performs no checks at all; every message passes. Pairs
// with NoopSigner for fully untrusted, best-effort relay.
type NoopValidator struct{}

func (NoopValidator) Validate(*pb.Message) error { return nil }

// AnonymousValidator requires that a message carry no signature or
// inlined key; it does not otherwise check authorship. Pairs with
// NoopSigner/RandomAuthorSigner.
type AnonymousValidator struct{}

func (AnonymousValidator) Validate(msg *pb.Message) error {
	if len(msg.Signature) > 0 || len(msg.Key) > 0 {
		return fmt.Errorf("pubsub: signed message rejected by anonymous validation policy")
	}
	return nil
}

// PermissiveValidator verifies the signature if one is present but admits
// unsigned messages. Pairs with AuthorOnlySigner/KeyedSigner mixed
// deployments.
type PermissiveValidator struct{}

func (PermissiveValidator) Validate(msg *pb.Message) error {
	if len(msg.Signature) == 0 {
		return nil
	}
	return verifySignedMessage(msg)
}

// StrictValidator requires every message to carry a valid signature.
// This is the default policy when PubSub.signStrict is enabled.
type StrictValidator struct{}

func (StrictValidator) Validate(msg *pb.Message) error {
	if len(msg.Signature) == 0 {
		return fmt.Errorf("pubsub: unsigned message rejected by strict validation policy")
	}
	return verifySignedMessage(msg)
}

func verifySignedMessage(msg *pb.Message) error {
	pubKey, err := publicKeyForMessage(msg)
	if err != nil {
		return err
	}

	ok, err := verifyMessageSignature(pubKey, msg)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pubsub: invalid message signature from %s", peer.ID(msg.From))
	}
	return nil
}

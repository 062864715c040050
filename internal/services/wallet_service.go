package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/models"
	"github.com/predolabs/predo-bot/internal/repositories"
	"github.com/predolabs/predo-bot/internal/utils"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// WalletService provisions a custodial wallet per user on first
// interaction and encrypts the private key before it ever touches the
// store.
type WalletService struct {
	walletRepo repositories.WalletRepository
	provider   WalletProvider
	cfg        config.WalletConfig
	log        *zap.Logger
}

// NewWalletService creates a new WalletService
func NewWalletService(
	walletRepo repositories.WalletRepository,
	provider WalletProvider,
	cfg config.WalletConfig,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		walletRepo: walletRepo,
		provider:   provider,
		cfg:        cfg,
		log:        log.Named("wallet"),
	}
}

// EnsureWallet returns the user's wallet, creating one if this is the
// user's first interaction.
func (s *WalletService) EnsureWallet(ctx context.Context, username string) (*models.UserWallet, error) {
	existing, err := s.walletRepo.FindByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("look up wallet for %s: %w", username, err)
	}

	created, err := s.provider.CreateWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("create wallet for %s: %w", username, err)
	}
	encrypted, err := utils.Encrypt(s.cfg.EncryptionKey, created.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt key for %s: %w", username, err)
	}

	w := &models.UserWallet{
		Username:            username,
		Address:             created.Address,
		EncryptedPrivateKey: encrypted,
	}
	if err := s.walletRepo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("store wallet for %s: %w", username, err)
	}
	s.log.Info("wallet created", zap.String("username", username), zap.String("address", created.Address))
	return w, nil
}

// Balance returns the user's stablecoin balance.
func (s *WalletService) Balance(ctx context.Context, username string) (float64, error) {
	w, err := s.walletRepo.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("look up wallet for %s: %w", username, err)
	}
	return s.provider.GetBalance(ctx, w.Address)
}

package services

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/coralbank/backend/internal/models"
)

// LedgerService is the balance-mutation core. Every method takes the
// caller's *sql.Tx: all checks and writes for one operation share a single
// unit of work, and nothing is visible to other transactions until commit.
//
// Rules enforced here, regardless of what the boundary layer validated:
// the account's holder must belong to the requesting user, the operation
// currency must equal the account currency, amounts are positive integers,
// and no mutation may drive a balance negative or past the int64 range.
type LedgerService struct{}

func NewLedgerService() *LedgerService {
	return &LedgerService{}
}

// lockedAccount is an account row read under FOR UPDATE, joined with its
// holder's owning user so one locked read answers both balance and
// ownership questions.
type lockedAccount struct {
	models.Account
	OwnerUserID int64
}

// DepositTx credits the account and appends one deposit transaction.
func (s *LedgerService) DepositTx(tx *sql.Tx, userID, accountID, amount int64, currency string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(account, userID, currency); err != nil {
		return nil, err
	}
	if account.Balance > math.MaxInt64-amount {
		return nil, ErrInvalidAmount
	}

	if err := s.updateBalance(tx, account, account.Balance+amount); err != nil {
		return nil, err
	}
	return s.insertTransaction(tx, accountID, models.TransactionTypeDeposit, amount, currency)
}

// WithdrawTx debits the account and appends one withdrawal transaction.
// Fails with ErrInsufficientFunds rather than ever allowing balance < 0.
func (s *LedgerService) WithdrawTx(tx *sql.Tx, userID, accountID, amount int64, currency string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAccess(account, userID, currency); err != nil {
		return nil, err
	}
	if account.Balance-amount < 0 {
		return nil, ErrInsufficientFunds
	}

	if err := s.updateBalance(tx, account, account.Balance-amount); err != nil {
		return nil, err
	}
	return s.insertTransaction(tx, accountID, models.TransactionTypeWithdrawal, amount, currency)
}

// TransferTx moves amount between two accounts: one transfer row plus a
// paired transfer_out/transfer_in transaction on each side, all in the
// caller's unit of work. Only the source account must belong to the
// requesting user; transfers to third-party accounts are legal.
func (s *LedgerService) TransferTx(tx *sql.Tx, userID, fromAccountID, toAccountID, amount int64, currency string) (*models.Transfer, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if fromAccountID == toAccountID {
		return nil, ErrSameAccountTransfer
	}

	// Lock accounts in ascending id order so concurrent transfers touching
	// the same pair cannot deadlock.
	firstLock, secondLock := fromAccountID, toAccountID
	if fromAccountID > toAccountID {
		firstLock, secondLock = toAccountID, fromAccountID
	}

	first, err := s.lockAccount(tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := s.lockAccount(tx, secondLock)
	if err != nil {
		return nil, err
	}

	fromAccount, toAccount := first, second
	if firstLock != fromAccountID {
		fromAccount, toAccount = second, first
	}

	if fromAccount.OwnerUserID != userID {
		return nil, ErrAccountNotAccessible
	}
	if fromAccount.Currency != currency || toAccount.Currency != currency {
		return nil, ErrCurrencyMismatch
	}
	if fromAccount.Balance-amount < 0 {
		return nil, ErrInsufficientFunds
	}
	if toAccount.Balance > math.MaxInt64-amount {
		return nil, ErrInvalidAmount
	}

	if err := s.updateBalance(tx, fromAccount, fromAccount.Balance-amount); err != nil {
		return nil, err
	}
	if err := s.updateBalance(tx, toAccount, toAccount.Balance+amount); err != nil {
		return nil, err
	}

	transfer := &models.Transfer{
		FromAccountID: fromAccountID,
		ToAccountID:   toAccountID,
		Amount:        amount,
		Currency:      currency,
	}
	err = tx.QueryRow(`
		INSERT INTO transfers (from_account_id, to_account_id, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		fromAccountID, toAccountID, amount, currency, time.Now(),
	).Scan(&transfer.ID, &transfer.CreatedAt)
	if err != nil {
		return nil, err
	}

	if _, err := s.insertTransaction(tx, fromAccountID, models.TransactionTypeTransferOut, amount, currency); err != nil {
		return nil, err
	}
	if _, err := s.insertTransaction(tx, toAccountID, models.TransactionTypeTransferIn, amount, currency); err != nil {
		return nil, err
	}

	return transfer, nil
}

func (s *LedgerService) checkAccess(account *lockedAccount, userID int64, currency string) error {
	if account.OwnerUserID != userID {
		return ErrAccountNotAccessible
	}
	if account.Currency != currency {
		return ErrCurrencyMismatch
	}
	return nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID int64) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRow(`
		SELECT a.id, a.holder_id, a.type, a.currency, a.balance, a.status, a.version, h.user_id
		FROM accounts a
		JOIN account_holders h ON h.id = a.holder_id
		WHERE a.id = $1
		FOR UPDATE OF a`, accountID).Scan(
		&account.ID, &account.HolderID, &account.Type, &account.Currency,
		&account.Balance, &account.Status, &account.Version, &account.OwnerUserID)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// updateBalance writes the new balance under the row lock. The version
// guard should never trip while the lock is held; if it does, something
// else wrote the row and the whole unit of work must abort.
func (s *LedgerService) updateBalance(tx *sql.Tx, account *lockedAccount, newBalance int64) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1
		WHERE id = $2 AND version = $3`,
		newBalance, account.ID, account.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", account.ID)
	}
	return nil
}

func (s *LedgerService) insertTransaction(tx *sql.Tx, accountID int64, txType string, amount int64, currency string) (*models.Transaction, error) {
	transaction := &models.Transaction{
		AccountID: accountID,
		Type:      txType,
		Amount:    amount,
		Currency:  currency,
	}
	err := tx.QueryRow(`
		INSERT INTO transactions (account_id, type, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		accountID, txType, amount, currency, time.Now(),
	).Scan(&transaction.ID, &transaction.CreatedAt)
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

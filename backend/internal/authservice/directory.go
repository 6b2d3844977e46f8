package authservice

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("bad credentials")
)

type Account struct {
	ID           string
	Username     string
	RealName     string
	Role         string
	PasswordHash []byte
}

// Directory 配置文件中的账号表，支持热替换
type Directory struct {
	mu     sync.RWMutex
	byName map[string]Account
}

func NewDirectory(accounts []Account) *Directory {
	d := &Directory{}
	d.Replace(accounts)
	return d
}

func (d *Directory) Replace(accounts []Account) {
	m := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		a.Role = strings.ToLower(a.Role)
		m[a.Username] = a
	}
	d.mu.Lock()
	d.byName = m
	d.mu.Unlock()
}

func (d *Directory) Lookup(username string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byName[username]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return a, nil
}

// Authenticate 用户不存在与密码错误对外不区分
func (d *Directory) Authenticate(username, password string) (Account, error) {
	a, err := d.Lookup(username)
	if err != nil {
		return Account{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)); err != nil {
		return Account{}, ErrBadCredentials
	}
	return a, nil
}

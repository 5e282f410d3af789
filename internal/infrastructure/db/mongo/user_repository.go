package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ecommerce-platform/user-service/internal/core/domain"
	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

const collectionUsers = "users"

// UserRepository is the MongoDB-backed credential store. All lockout and
// token mutations are single-document atomic updates; nothing here does a
// read-modify-write cycle.
type UserRepository struct {
	col *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{col: db.Collection(collectionUsers)}
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	FirstName    string             `bson:"first_name"`
	LastName     string             `bson:"last_name"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"password_hash"`
	Role         string             `bson:"role"`
	Phone        string             `bson:"phone,omitempty"`
	Address      string             `bson:"address,omitempty"`

	IsActive         bool       `bson:"is_active"`
	EmailVerified    bool       `bson:"email_verified"`
	FailedLoginCount int        `bson:"failed_login_count,omitempty"`
	LockedUntil      *time.Time `bson:"locked_until,omitempty"`
	LastLogin        *time.Time `bson:"last_login,omitempty"`

	VerificationTokenHash  string     `bson:"email_verification_token_hash,omitempty"`
	VerificationExpiresAt  *time.Time `bson:"email_verification_expires_at,omitempty"`
	PasswordResetTokenHash string     `bson:"password_reset_token_hash,omitempty"`
	PasswordResetExpiresAt *time.Time `bson:"password_reset_expires_at,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func fromDomain(u *domain.User) userDoc {
	return userDoc{
		FirstName:              u.FirstName,
		LastName:               u.LastName,
		Email:                  u.Email,
		PasswordHash:           u.PasswordHash,
		Role:                   u.Role,
		Phone:                  u.Phone,
		Address:                u.Address,
		IsActive:               u.IsActive,
		EmailVerified:          u.EmailVerified,
		FailedLoginCount:       u.FailedLoginCount,
		LockedUntil:            u.LockedUntil,
		LastLogin:              u.LastLogin,
		VerificationTokenHash:  u.VerificationTokenHash,
		VerificationExpiresAt:  u.VerificationExpiresAt,
		PasswordResetTokenHash: u.PasswordResetTokenHash,
		PasswordResetExpiresAt: u.PasswordResetExpiresAt,
		CreatedAt:              u.CreatedAt,
		UpdatedAt:              u.UpdatedAt,
	}
}

func (d *userDoc) toDomain() *domain.User {
	return &domain.User{
		ID:                     d.ID.Hex(),
		FirstName:              d.FirstName,
		LastName:               d.LastName,
		Email:                  d.Email,
		PasswordHash:           d.PasswordHash,
		Role:                   d.Role,
		Phone:                  d.Phone,
		Address:                d.Address,
		IsActive:               d.IsActive,
		EmailVerified:          d.EmailVerified,
		FailedLoginCount:       d.FailedLoginCount,
		LockedUntil:            d.LockedUntil,
		LastLogin:              d.LastLogin,
		VerificationTokenHash:  d.VerificationTokenHash,
		VerificationExpiresAt:  d.VerificationExpiresAt,
		PasswordResetTokenHash: d.PasswordResetTokenHash,
		PasswordResetExpiresAt: d.PasswordResetExpiresAt,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

func tokenFields(purpose domain.TokenPurpose) (hashField, expiryField string) {
	if purpose == domain.PurposePasswordReset {
		return "password_reset_token_hash", "password_reset_expires_at"
	}
	return "email_verification_token_hash", "email_verification_expires_at"
}

// Create inserts a new user. The unique index on email resolves concurrent
// registrations with the same address: exactly one insert wins.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := fromDomain(user)
	res, err := r.col.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	doc.ID = res.InsertedID.(primitive.ObjectID)
	return doc.toDomain(), nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByTokenHash searches the population by hashed token. Expiry is
// deliberately not part of the filter so callers can tell an expired token
// apart from an unknown one.
func (r *UserRepository) FindByTokenHash(ctx context.Context, purpose domain.TokenPurpose, hash string) (*domain.User, error) {
	hashField, _ := tokenFields(purpose)
	return r.findOne(ctx, bson.M{hashField: hash})
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return doc.toDomain(), nil
}

// StoreToken overwrites the outstanding token of the given purpose.
func (r *UserRepository) StoreToken(ctx context.Context, id string, purpose domain.TokenPurpose, hash string, expiresAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	hashField, expiryField := tokenFields(purpose)
	res, err := r.col.UpdateByID(ctx, oid, bson.M{
		"$set": bson.M{
			hashField:    hash,
			expiryField:  expiresAt,
			"updated_at": time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) ClearToken(ctx context.Context, id string, purpose domain.TokenPurpose) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	hashField, expiryField := tokenFields(purpose)
	_, err = r.col.UpdateByID(ctx, oid, bson.M{
		"$unset": bson.M{hashField: "", expiryField: ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// ConsumeVerificationToken spends a live verification token: the filter
// matches hash plus unexpired expiry, and the same update flips
// email_verified and clears the token. Concurrent consumers race on the
// filter, so at most one wins.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, hash string, now time.Time) (*domain.User, error) {
	filter := bson.M{
		"email_verification_token_hash": hash,
		"email_verification_expires_at": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{"email_verified": true, "updated_at": now},
		"$unset": bson.M{
			"email_verification_token_hash": "",
			"email_verification_expires_at": "",
		},
	}
	return r.consume(ctx, filter, update)
}

// ConsumePasswordResetToken spends a live reset token and stores the new
// credential hash in the same update.
func (r *UserRepository) ConsumePasswordResetToken(ctx context.Context, hash string, newPasswordHash string, now time.Time) (*domain.User, error) {
	filter := bson.M{
		"password_reset_token_hash": hash,
		"password_reset_expires_at": bson.M{"$gt": now},
	}
	update := bson.M{
		"$set": bson.M{"password_hash": newPasswordHash, "updated_at": now},
		"$unset": bson.M{
			"password_reset_token_hash": "",
			"password_reset_expires_at": "",
		},
	}
	return r.consume(ctx, filter, update)
}

func (r *UserRepository) consume(ctx context.Context, filter, update bson.M) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	err := r.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return doc.toDomain(), nil
}

// RecordLoginFailure increments the failure counter with $inc (atomic, so
// concurrent failures cannot under-count) and, when the post-increment
// count reaches the threshold without a live lock, arms locked_until with a
// filtered conditional update. The lock window is fixed from the tripping
// failure; further failures while locked refresh nothing. A lock that
// lapsed passively restarts the count: the filter on an expired
// locked_until resets the counter to 1 and clears the lock, so one
// post-expiry failure can never re-lock the account.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "locked_until": bson.M{"$lte": now}},
		bson.M{
			"$set":   bson.M{"failed_login_count": 1, "updated_at": now},
			"$unset": bson.M{"locked_until": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("record login failure: %w", err)
	}

	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{
			"$inc": bson.M{"failed_login_count": 1},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("record login failure: %w", err)
	}

	if doc.FailedLoginCount < threshold || (doc.LockedUntil != nil && now.Before(*doc.LockedUntil)) {
		return doc.toDomain(), nil
	}

	lockedUntil := now.Add(lockFor)
	res, err := r.col.UpdateOne(ctx,
		bson.M{
			"_id":                oid,
			"failed_login_count": bson.M{"$gte": threshold},
			"$or": bson.A{
				bson.M{"locked_until": bson.M{"$exists": false}},
				bson.M{"locked_until": bson.M{"$lte": now}},
			},
		},
		bson.M{"$set": bson.M{"locked_until": lockedUntil, "updated_at": now}},
	)
	if err != nil {
		return nil, fmt.Errorf("arm lockout: %w", err)
	}
	if res.ModifiedCount > 0 {
		doc.LockedUntil = &lockedUntil
	}
	return doc.toDomain(), nil
}

// RecordLoginSuccess clears failure accounting and stamps last_login.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateByID(ctx, oid, bson.M{
		"$set":   bson.M{"last_login": now, "updated_at": now},
		"$unset": bson.M{"failed_login_count": "", "locked_until": ""},
	})
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateByID(ctx, oid, bson.M{
		"$set": bson.M{"password_hash": hash, "updated_at": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, fields ports.ProfileUpdate) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if fields.FirstName != nil {
		set["first_name"] = *fields.FirstName
	}
	if fields.LastName != nil {
		set["last_name"] = *fields.LastName
	}
	if fields.Phone != nil {
		set["phone"] = *fields.Phone
	}
	if fields.Address != nil {
		set["address"] = *fields.Address
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	err = r.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var doc userDoc
	err = r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"is_active": active, "updated_at": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("set active: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, page, limit int) ([]*domain.User, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	total, err := r.col.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cur, err := r.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	var users []*domain.User
	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, doc.toDomain())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

// EnsureIndexes creates the indexes the repository relies on. The unique
// email index is load-bearing: register-time uniqueness resolves here.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "email_verification_token_hash", Value: 1}}},
		{Keys: bson.D{{Key: "password_reset_token_hash", Value: 1}}},
	}

	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}

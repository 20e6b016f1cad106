/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import (
	"errors"
	"fmt"

	"github.com/tomoncle/hummer-ysql/database"
)

var (
	ErrEntityNotFound           = errors.New("core: entity not found")
	ErrIncorrectUpdateSemantics = errors.New("core: update did not change any row")
	ErrDuplicateKey             = errors.New("core: duplicate key")
	ErrTransactionConflict      = errors.New("core: transaction conflict")
)

// translate maps driver errors onto the package sentinels. The driver error
// stays in the chain.
func translate(err error) error {
	if err == nil {
		return nil
	}
	is, code := database.IsSqlError(err)
	if !is {
		return err
	}
	switch code {
	case database.DuplicateKeyErr:
		return fmt.Errorf("%w: %w", ErrDuplicateKey, err)
	case database.TransactionConflictErr:
		return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
	default:
		return err
	}
}
